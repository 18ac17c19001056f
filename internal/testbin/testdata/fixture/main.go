package main

import (
	"fmt"
	"os"
)

type Player struct {
	health int
}

//go:noinline
func (p *Player) Heal(n int) int {
	p.health += n
	return p.health
}

//go:noinline
func Tick(n int) int {
	return n * 3
}

func main() {
	p := &Player{}
	fmt.Println(p.Heal(Tick(len(os.Args))))
}
