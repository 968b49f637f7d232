package core

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkSubmitFanout(b *testing.B, recipients int) {
	f := newFixture(b, RegistryOptions{QueueSize: 64})
	sender := f.identity(b, "sender")

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		clients = append(clients, f.admit(b, f.identity(b, fmt.Sprintf("client-%d", i))))
	}

	// Drain events for all but the first recipient to avoid queue overflow.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for {
				select {
				case <-cl.Events():
				case <-cl.Done():
					return
				}
			}
		}(c)
	}

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := f.relay.Submit(ctx, sender.ID, "payload"); err != nil {
			b.Fatal(err)
		}
		<-target.Events()
	}
}

func BenchmarkSubmitFanout_10(b *testing.B)  { benchmarkSubmitFanout(b, 10) }
func BenchmarkSubmitFanout_100(b *testing.B) { benchmarkSubmitFanout(b, 100) }
func BenchmarkSubmitFanout_500(b *testing.B) { benchmarkSubmitFanout(b, 500) }
