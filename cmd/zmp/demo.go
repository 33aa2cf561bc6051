package main

import (
	"sort"
	"time"

	"github.com/dermesser/zmp/node"

	"github.com/nuclio/errors"
)

// services every demo node can provide
var demoServices = map[string]node.Handler{
	"echo":  echo,
	"add":   add,
	"sleep": sleep,
	"fail":  fail,
}

func demoServiceNames() []string {
	names := make([]string, 0, len(demoServices))
	for name := range demoServices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// echo returns its only argument, or all of them as a list
func echo(ctx *node.Context) (interface{}, error) {
	args := ctx.Args()
	if len(args) == 1 {
		return args[0], nil
	}
	return args, nil
}

func add(ctx *node.Context) (interface{}, error) {
	var a, b int
	if err := ctx.Bind(&a, &b); err != nil {
		return nil, err
	}
	return a + b, nil
}

// sleep blocks the node for the given number of seconds, which is how long
// every other caller of the node waits as well
func sleep(ctx *node.Context) (interface{}, error) {
	var seconds float64
	if err := ctx.Bind(&seconds); err != nil {
		return nil, err
	}

	time.Sleep(time.Duration(seconds * float64(time.Second)))
	return seconds, nil
}

func fail(ctx *node.Context) (interface{}, error) {
	message := "failure requested"

	if len(ctx.Args()) > 0 {
		if err := ctx.Bind(&message); err != nil {
			return nil, err
		}
	}
	return nil, errors.New(message)
}
