package api

import (
    "testing"

    redis "github.com/redis/go-redis/v9"
)

func TestRedisBrokerUnsubscribeOwnsNoChannel(t *testing.T) {
    b := &RedisBroker{subs: map[chan SSEEvent]*redis.PubSub{}}
    ch := make(chan SSEEvent, 1)
    // The reader goroutine owns channel close; Unsubscribe must not close
    // it, and repeated calls for the same channel must be harmless.
    b.Unsubscribe(TopicAll, ch)
    b.Unsubscribe(TopicAll, ch)
    select {
    case _, ok := <-ch:
        if !ok {
            t.Fatal("unsubscribe closed a channel it does not own")
        }
    default:
    }
    ch <- SSEEvent{Type: "x"}
}
