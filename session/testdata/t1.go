package main

import "fmt"

func p() {
	i := 20
	fmt.Println(i)
}

func main() {
	p()
}
