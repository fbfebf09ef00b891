package pivtest

import (
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/pivman/pkg/piv"
)

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// State is a token snapshot. The agent persists one so a development token
// survives restarts, and tests use them as golden fixtures.
type State struct {
	PIN           string            `cbor:"1,keyasint"`
	PUK           string            `cbor:"2,keyasint"`
	ManagementKey []byte            `cbor:"3,keyasint"`
	RequireTouch  bool              `cbor:"4,keyasint"`
	PINAttempts   int               `cbor:"5,keyasint"`
	PUKAttempts   int               `cbor:"6,keyasint"`
	PINBudget     int               `cbor:"7,keyasint"`
	PUKBudget     int               `cbor:"8,keyasint"`
	Objects       map[uint32][]byte `cbor:"9,keyasint"`
}

// SaveState writes a snapshot of credentials, counters and objects. The
// verification state and the journal are session-scoped and not saved.
func (t *Token) SaveState(w io.Writer) error {
	t.mu.Lock()
	st := State{
		PIN:           t.pin,
		PUK:           t.puk,
		ManagementKey: t.managementKey,
		RequireTouch:  t.requireTouch,
		PINAttempts:   t.pinAttempts,
		PUKAttempts:   t.pukAttempts,
		PINBudget:     t.pinBudget,
		PUKBudget:     t.pukBudget,
		Objects:       make(map[uint32][]byte, len(t.objects)),
	}
	for id, data := range t.objects {
		st.Objects[uint32(id)] = data
	}
	t.mu.Unlock()

	b, err := encMode.Marshal(&st)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// LoadState restores a token from a snapshot.
func LoadState(r io.Reader) (*Token, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var st State
	if err := cbor.Unmarshal(b, &st); err != nil {
		return nil, err
	}

	t := New()
	t.pin = st.PIN
	t.puk = st.PUK
	t.managementKey = st.ManagementKey
	t.requireTouch = st.RequireTouch
	t.pinAttempts = st.PINAttempts
	t.pukAttempts = st.PUKAttempts
	t.pinBudget = st.PINBudget
	t.pukBudget = st.PUKBudget
	for id, data := range st.Objects {
		t.objects[piv.ObjectID(id)] = data
	}
	return t, nil
}
