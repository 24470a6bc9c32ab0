package coin

import (
	"fmt"
	"io"

	cbg "github.com/whyrusleeping/cbor-gen"
)

// Coins is a flat array, so its encoders are written by hand.

func (cs *Coins) MarshalCBOR(w io.Writer) error {
	if cs == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if len(*cs) > cbg.MaxLength {
		return fmt.Errorf("too many coins: %d", len(*cs))
	}

	scratch := make([]byte, 9)
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(*cs))); err != nil {
		return err
	}
	for i := range *cs {
		if err := (*cs)[i].MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (cs *Coins) UnmarshalCBOR(r io.Reader) error {
	*cs = nil

	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("cbor input should be of type array")
	}
	if extra > cbg.MaxLength {
		return fmt.Errorf("coins: array too large (%d)", extra)
	}
	if extra == 0 {
		return nil
	}

	out := make(Coins, extra)
	for i := 0; i < int(extra); i++ {
		if err := out[i].UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling coin %d: %w", i, err)
		}
	}
	*cs = out
	return nil
}
