package custody

import (
	addr "github.com/filecoin-project/go-address"
	"golang.org/x/xerrors"
)

// State is the single persisted record of a custody actor.
type State struct {
	// Identity allowed to move funds. Set at construction, never changed.
	Admin addr.Address
	// ID address of the spawned slave, nil until the spawn reply is processed.
	Child *addr.Address
}

func ConstructState(admin addr.Address) *State {
	return &State{Admin: admin}
}

// IsAdmin reports whether an address is the stored admin.
func (st *State) IsAdmin(a addr.Address) bool {
	return a == st.Admin
}

func (st *State) HasChild() bool {
	return st.Child != nil
}

// SetChild records the slave address. It may be set only once.
func (st *State) SetChild(child addr.Address) error {
	if st.Child != nil {
		return xerrors.Errorf("slave already recorded as %v", *st.Child)
	}
	st.Child = &child
	return nil
}
