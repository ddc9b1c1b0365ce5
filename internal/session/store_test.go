package session

import (
	"context"
	"errors"
	"testing"

	"github.com/pwaburton/members/internal/client"
)

func TestStoreSubscribeDeliversInitialSession(t *testing.T) {
	provider := newFakeProvider(sessionFor("user-1", "m1@example.org"))
	store, err := NewStore(StoreConfig{Provider: provider})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	defer store.Close()

	var events []string
	var initial *client.Session
	store.Subscribe(func(event string, current *client.Session) {
		events = append(events, event)
		if event == client.EventInitialSession {
			initial = current
		}
	})
	if len(events) != 1 || events[0] != client.EventInitialSession {
		t.Fatalf("unexpected events %v", events)
	}
	if initial == nil || initial.User.ID != "user-1" {
		t.Fatalf("expected cached session in initial event, got %#v", initial)
	}

	if err := store.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}
	if store.Cached() != nil {
		t.Fatalf("expected cached session to be cleared")
	}
	if len(events) != 2 || events[1] != client.EventSignedOut {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestStoreKeyedSubscriptionReplacesListener(t *testing.T) {
	provider := newFakeProvider(nil)
	store, err := NewStore(StoreConfig{Provider: provider})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	firstCalls := 0
	secondCalls := 0
	unsubscribeFirst := store.SubscribeKeyed("view", func(event string, _ *client.Session) {
		if event != client.EventInitialSession {
			firstCalls++
		}
	})
	unsubscribeSecond := store.SubscribeKeyed("view", func(event string, _ *client.Session) {
		if event != client.EventInitialSession {
			secondCalls++
		}
	})
	if store.SubscriberCount() != 1 {
		t.Fatalf("expected a single subscription, got %d", store.SubscriberCount())
	}

	unsubscribeFirst()
	if store.SubscriberCount() != 1 {
		t.Fatalf("stale unsubscribe removed the replacement")
	}

	provider.emit(client.EventSignedOut, nil)
	if firstCalls != 0 || secondCalls != 1 {
		t.Fatalf("unexpected deliveries first=%d second=%d", firstCalls, secondCalls)
	}

	unsubscribeSecond()
	unsubscribeSecond()
	if store.SubscriberCount() != 0 {
		t.Fatalf("expected no subscriptions, got %d", store.SubscriberCount())
	}
}

func TestStoreWrapsProviderErrors(t *testing.T) {
	provider := newFakeProvider(nil)
	provider.sessionErr = client.ErrCorruptSession
	store, err := NewStore(StoreConfig{Provider: provider})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	_, err = store.GetCurrentSession(context.Background())
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Op != "get_session" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, err := store.SignInWithPassword(context.Background(), "nobody@example.org", "pw"); !errors.As(err, &providerErr) {
		t.Fatalf("expected provider error on rejected sign in, got %v", err)
	}
}
