package proc

import "testing"

func TestAdoptRejectsSelfAndAncestors(t *testing.T) {
	grandparent := New()
	parent := New()
	link(grandparent, parent)
	child := New()
	link(parent, child)

	if err := child.Adopt(child); err != errAdoptSelf {
		t.Fatalf("adopt(self) = %v, want errAdoptSelf", err)
	}
	if err := child.Adopt(parent); err != errAdoptAncestor {
		t.Fatalf("adopt(parent) = %v, want errAdoptAncestor", err)
	}
	if err := child.Adopt(grandparent); err != errAdoptAncestor {
		t.Fatalf("adopt(grandparent) = %v, want errAdoptAncestor", err)
	}
}

func TestAdoptRejectsAlreadyOwnedTarget(t *testing.T) {
	a := New()
	b := New()
	target := New()

	if err := a.Adopt(target); err != nil {
		t.Fatalf("first adopt failed: %v", err)
	}
	if err := b.Adopt(target); err != errAdoptAlreadyOwned {
		t.Fatalf("second adopt = %v, want errAdoptAlreadyOwned", err)
	}
}

func TestAdoptRecordsPendingAdoptionAndAdopter(t *testing.T) {
	caller := New()
	target := New()

	if err := caller.Adopt(target); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	if len(caller.PendingAdoption) != 1 {
		t.Fatalf("expected one pending adoption entry, got %d", len(caller.PendingAdoption))
	}
	if got, ok := caller.PendingAdoption[0].Lock(); !ok || got != target {
		t.Fatalf("pending adoption entry = %v, %v; want target", got, ok)
	}
	if got, ok := target.Adopter.Lock(); !ok || got != caller {
		t.Fatalf("target.Adopter = %v, %v; want caller", got, ok)
	}
}

func TestDisownWithoutParentFails(t *testing.T) {
	root := New()
	if err := root.Disown(); err != errDisownSuicide {
		t.Fatalf("disown with no parent = %v, want errDisownSuicide", err)
	}
}

func TestDisownWithoutAdopterDestroysChild(t *testing.T) {
	parent := New()
	child := New()
	link(parent, child)

	if err := child.Disown(); err != nil {
		t.Fatalf("disown failed: %v", err)
	}
	if len(parent.Children) != 0 {
		t.Fatalf("expected child removed from parent.Children, got %d entries", len(parent.Children))
	}
	if !child.dead {
		t.Fatalf("expected disowned child with no adopter to be destroyed")
	}
}

func TestDisownWithAdopterPromotesPendingAdoption(t *testing.T) {
	parent := New()
	child := New()
	link(parent, child)

	adopter := New()
	if err := adopter.Adopt(child); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}

	if err := child.Disown(); err != nil {
		t.Fatalf("disown failed: %v", err)
	}

	if len(parent.Children) != 0 {
		t.Fatalf("expected child removed from old parent, got %d entries", len(parent.Children))
	}
	if len(adopter.PendingAdoption) != 0 {
		t.Fatalf("expected pending adoption entry consumed, got %d entries", len(adopter.PendingAdoption))
	}
	if len(adopter.Children) != 1 || adopter.Children[0] != child {
		t.Fatalf("expected child promoted into adopter.Children, got %v", adopter.Children)
	}
	if got, ok := child.Parent.Lock(); !ok || got != adopter {
		t.Fatalf("child.Parent = %v, %v; want adopter", got, ok)
	}
	if child.Adopter.Valid() {
		t.Fatalf("expected child.Adopter cleared after promotion")
	}
	if child.dead {
		t.Fatalf("a promoted child must not be destroyed")
	}
}

func TestMakeFriendIsDirectional(t *testing.T) {
	a := New()
	b := New()
	MakeFriend(a, b)

	if len(b.Friends) != 1 {
		t.Fatalf("expected b to list a as a friend, got %d entries", len(b.Friends))
	}
	if got, ok := b.Friends[0].Lock(); !ok || got != a {
		t.Fatalf("b.Friends[0] = %v, %v; want a", got, ok)
	}
	if len(a.Friends) != 0 {
		t.Fatalf("make_friend(a, b) must not also record b as a's friend")
	}
}

func TestCleanupDeadPrunesDestroyedFriendsAndPending(t *testing.T) {
	self := New()
	liveFriend := New()
	deadFriend := New()
	MakeFriend(liveFriend, self)
	MakeFriend(deadFriend, self)
	deadFriend.destroy()

	liveAdoptee := New()
	deadAdoptee := New()
	if err := self.Adopt(liveAdoptee); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	if err := self.Adopt(deadAdoptee); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	deadAdoptee.destroy()

	self.CleanupDead()

	if len(self.Friends) != 1 {
		t.Fatalf("expected one live friend left, got %d", len(self.Friends))
	}
	if got, ok := self.Friends[0].Lock(); !ok || got != liveFriend {
		t.Fatalf("surviving friend = %v, %v; want liveFriend", got, ok)
	}
	if len(self.PendingAdoption) != 1 {
		t.Fatalf("expected one live pending adoption left, got %d", len(self.PendingAdoption))
	}
	if got, ok := self.PendingAdoption[0].Lock(); !ok || got != liveAdoptee {
		t.Fatalf("surviving pending adoption = %v, %v; want liveAdoptee", got, ok)
	}
}

func TestRemoveFriendAndRemovePendingAdoption(t *testing.T) {
	self := New()
	friend := New()
	MakeFriend(friend, self)
	self.RemoveFriend(friend)
	if len(self.Friends) != 0 {
		t.Fatalf("expected friend removed, got %d entries", len(self.Friends))
	}

	target := New()
	if err := self.Adopt(target); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	self.RemovePendingAdoption(target)
	if len(self.PendingAdoption) != 0 {
		t.Fatalf("expected pending adoption removed, got %d entries", len(self.PendingAdoption))
	}
	if target.Adopter.Valid() {
		t.Fatalf("expected target.Adopter cleared after RemovePendingAdoption")
	}
}
