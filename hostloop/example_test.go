package hostloop_test

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/hostloop"
)

func ExampleNewScheduler() {
	loop, err := hostloop.New()
	if err != nil {
		panic(err)
	}
	go func() { _ = loop.Run(context.Background()) }()
	defer loop.Shutdown(context.Background())

	s, err := hostloop.NewScheduler(loop)
	if err != nil {
		panic(err)
	}

	task, err := s.QueueMacrotask(func(time.Duration) (any, error) {
		return `hello from the loop`, nil
	}, &scheduler.QueueTaskOptions{Delay: 10 * time.Millisecond})
	if err != nil {
		panic(err)
	}
	result, err := task.Result()
	if err != nil {
		panic(err)
	}

	value, err := result.Wait(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Println(value)

	// Output:
	// hello from the loop
}
