package proc

import "github.com/NudelErde/CrackOS3/kernel"

var (
	errAdoptSelf          = &kernel.Error{Module: "proc", Message: "cannot adopt self"}
	errAdoptAncestor      = &kernel.Error{Module: "proc", Message: "cannot adopt an ancestor"}
	errAdoptAlreadyOwned  = &kernel.Error{Module: "proc", Message: "target already has an adopter"}
	errDisownSuicide      = &kernel.Error{Module: "proc", Message: "suicide and parricide are prohibited"}
)

// Adopt implements adopt(X): X must not be caller, must not be an
// ancestor of caller, and must not already have an adopter. X joins
// caller's PendingAdoption as a weak link and X.Adopter becomes caller.
func (caller *Process) Adopt(target *Process) *kernel.Error {
	if target == caller {
		return errAdoptSelf
	}
	for ancestor, ok := caller.Parent.Lock(); ok; ancestor, ok = ancestor.Parent.Lock() {
		if ancestor == target {
			return errAdoptAncestor
		}
	}
	if target.Adopter.Valid() {
		return errAdoptAlreadyOwned
	}
	target.Adopter = weakRef(caller)
	caller.PendingAdoption = append(caller.PendingAdoption, weakRef(target))
	return nil
}

// Disown implements disown(X) from the perspective of X itself (the
// syscall always acts on the calling thread's own process; it takes no
// descriptor).
//
//   - If X is a child of its parent and has an adopter, the adopter's
//     pending-adoption entry is promoted to a child of the adopter, and X
//     is removed from parent's Children.
//   - Otherwise (no adopter) X is dropped: removed from parent's Children
//     and destroyed.
//   - If X has no parent, nothing changes and errDisownSuicide is
//     returned. Disown does not remove friend or pending-adoption entries
//     that name X; RemoveFriend and RemovePendingAdoption do that.
func (x *Process) Disown() *kernel.Error {
	parent, hasParent := x.Parent.Lock()
	if hasParent {
		if adopter, ok := x.Adopter.Lock(); ok {
			x.handleDisown(adopter)
			removeChild(parent, x)
			return nil
		}
		removeChild(parent, x)
		x.destroy()
		return nil
	}
	return errDisownSuicide
}

// handleDisown promotes x out of adopter's PendingAdoption list into
// adopter's Children, mirroring process::handle_disown.
func (x *Process) handleDisown(adopter *Process) {
	idx := -1
	for i, ref := range adopter.PendingAdoption {
		if p, ok := ref.Lock(); ok && p == x {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	adopter.PendingAdoption = append(adopter.PendingAdoption[:idx], adopter.PendingAdoption[idx+1:]...)
	adopter.Children = append(adopter.Children, x)
	x.Parent = weakRef(adopter)
	x.Adopter = Ref{}
}

func removeChild(parent *Process, child *Process) {
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

// RemoveFriend removes target from self's Friends list, if present (the
// "X is a friend, simply removed" branch of disown targeting a friend
// rather than self).
func (self *Process) RemoveFriend(target *Process) {
	for i, ref := range self.Friends {
		if p, ok := ref.Lock(); ok && p == target {
			self.Friends = append(self.Friends[:i], self.Friends[i+1:]...)
			return
		}
	}
}

// RemovePendingAdoption removes target from self's PendingAdoption list,
// clearing target's Adopter link (the "X is a pending-adoption entry,
// simply removed" branch).
func (self *Process) RemovePendingAdoption(target *Process) {
	for i, ref := range self.PendingAdoption {
		if p, ok := ref.Lock(); ok && p == target {
			self.PendingAdoption = append(self.PendingAdoption[:i], self.PendingAdoption[i+1:]...)
			if adopter, ok := target.Adopter.Lock(); ok && adopter == self {
				target.Adopter = Ref{}
			}
			return
		}
	}
}

// MakeFriend implements make_friend(A, B): appends a weak link of A to
// B's friends list, so B is the one who "has" A as a friend.
func MakeFriend(a, b *Process) {
	b.Friends = append(b.Friends, weakRef(a))
}

// CleanupDead prunes Friends and PendingAdoption of any entry whose
// target has been destroyed, matching process::cleanup_dead. Called
// before enumeration (list_processes).
func (p *Process) CleanupDead() {
	live := p.Friends[:0]
	for _, ref := range p.Friends {
		if ref.Valid() {
			live = append(live, ref)
		}
	}
	p.Friends = live

	livePending := p.PendingAdoption[:0]
	for _, ref := range p.PendingAdoption {
		if ref.Valid() {
			livePending = append(livePending, ref)
		}
	}
	p.PendingAdoption = livePending
}
