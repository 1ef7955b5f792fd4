package topics_test

import (
	"context"
	"fmt"

	"github.com/PowerDNS/replstream/utils/topics"
)

type sendEvent struct {
	Receiver string
	Bytes    int
}

func Example() {
	t := topics.New[sendEvent]()
	t.TryPublish(sendEvent{Receiver: "10.0.0.1:4321", Bytes: 100})

	sub := t.Subscribe(2, true)
	defer sub.Close()

	// The second value fills the buffer, the third is missed
	fmt.Println("missed:", t.TryPublish(sendEvent{Receiver: "10.0.0.2:4321", Bytes: 200}))
	fmt.Println("missed:", t.TryPublish(sendEvent{Receiver: "10.0.0.3:4321", Bytes: 300}))

	for range 2 {
		ev, _ := sub.Next(context.Background())
		fmt.Printf("sent %d bytes to %s\n", ev.Bytes, ev.Receiver)
	}

	last, _ := t.Last()
	fmt.Println("last:", last.Receiver)

	// Output:
	// missed: 0
	// missed: 1
	// sent 100 bytes to 10.0.0.1:4321
	// sent 200 bytes to 10.0.0.2:4321
	// last: 10.0.0.3:4321
}
