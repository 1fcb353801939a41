package realtime

import "fmt"

// SubscriptionType is the audience class of a subscription
type SubscriptionType string

const (
	SubscribeUser      SubscriptionType = "user"
	SubscribeBranch    SubscriptionType = "branch"
	SubscribeRole      SubscriptionType = "role"
	SubscribeResource  SubscriptionType = "resource"
	SubscribeBroadcast SubscriptionType = "broadcast"
)

// Valid reports whether t is a known subscription type.
func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscribeUser, SubscribeBranch, SubscribeRole, SubscribeResource, SubscribeBroadcast:
		return true
	}
	return false
}

// SubscriptionID is the identifier used for a type and resource pair.
func SubscriptionID(t SubscriptionType, resource string) string {
	return fmt.Sprintf("%s:%s", t, resource)
}

// Subscription is a registered interest in a class of pushes.
type Subscription struct {
	ID        string
	Type      SubscriptionType
	Resource  string
	Filters   map[string]any
	Confirmed bool
	Error     string
}

func (s Subscription) frame(action SubscriptionAction) SubscriptionFrame {
	return SubscriptionFrame{
		Action:           action,
		SubscriptionType: s.Type,
		Resource:         s.Resource,
		Filters:          s.Filters,
	}
}

func (s Subscription) clone() Subscription {
	c := s
	if s.Filters != nil {
		c.Filters = make(map[string]any, len(s.Filters))
		for k, v := range s.Filters {
			c.Filters[k] = v
		}
	}
	return c
}

// subscriptionSet keeps subscriptions in insertion order.
type subscriptionSet struct {
	order []string
	byID  map[string]*Subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{byID: make(map[string]*Subscription)}
}

// put adds sub or replaces the filters of an existing entry.
func (s *subscriptionSet) put(sub Subscription) *Subscription {
	if existing, ok := s.byID[sub.ID]; ok {
		existing.Filters = sub.Filters
		existing.Confirmed = false
		existing.Error = ""
		return existing
	}
	entry := sub
	s.byID[sub.ID] = &entry
	s.order = append(s.order, sub.ID)
	return &entry
}

func (s *subscriptionSet) get(id string) (*Subscription, bool) {
	sub, ok := s.byID[id]
	return sub, ok
}

func (s *subscriptionSet) remove(id string) (Subscription, bool) {
	sub, ok := s.byID[id]
	if !ok {
		return Subscription{}, false
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return *sub, true
}

// resetConfirmations marks every entry unconfirmed, ahead of a replay.
func (s *subscriptionSet) resetConfirmations() {
	for _, sub := range s.byID {
		sub.Confirmed = false
		sub.Error = ""
	}
}

func (s *subscriptionSet) list() []Subscription {
	out := make([]Subscription, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].clone())
	}
	return out
}

func (s *subscriptionSet) clear() {
	s.order = nil
	s.byID = make(map[string]*Subscription)
}

func (s *subscriptionSet) len() int {
	return len(s.order)
}
