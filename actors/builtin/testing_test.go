package builtin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
)

func TestMessageAccumulator(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		acc := &builtin.MessageAccumulator{}
		assert.True(t, acc.IsEmpty())

		acc.Add("one")
		assert.False(t, acc.IsEmpty())
		assert.Equal(t, []string{"one"}, acc.Messages())

		acc.Addf("tw%s", "o")
		acc.Addf("three")
		assert.Equal(t, []string{"one", "two", "three"}, acc.Messages())
	})

	t.Run("prefix", func(t *testing.T) {
		acc := &builtin.MessageAccumulator{}
		accA := acc.WithPrefix("A")

		accA.Add("aa")
		assert.Equal(t, []string{"Aaa"}, acc.Messages())
		assert.Equal(t, []string{"Aaa"}, accA.Messages())

		{
			accB := acc.WithPrefix("B")
			accB.Add("bb")
			assert.Equal(t, []string{"Aaa", "Bbb"}, acc.Messages())
		}

		accAB := accA.WithPrefix("B")
		accAB.Add("abab")
		assert.Equal(t, []string{"Aaa", "Bbb", "ABabab"}, acc.Messages())
	})

	t.Run("merge", func(t *testing.T) {
		acc1 := &builtin.MessageAccumulator{}
		acc1.Add("one1")

		acc2 := &builtin.MessageAccumulator{}
		acc2.Add("one2")
		acc2.Add("two2")

		acc1.AddAll(acc2)
		assert.Equal(t, acc1.Messages(), []string{"one1", "one2", "two2"})
	})

	t.Run("require", func(t *testing.T) {
		acc := &builtin.MessageAccumulator{}

		acc.Require(true, "fail")
		assert.True(t, acc.IsEmpty())

		acc.Require(false, "fail")
		assert.Equal(t, []string{"fail"}, acc.Messages())

		acc.RequireNoError(nil, "fail")
		assert.Equal(t, []string{"fail"}, acc.Messages())

		acc.RequireNoError(xerrors.New("boom"), "fail %d", 1)
		assert.Equal(t, []string{"fail", "fail 1: boom"}, acc.Messages())
	})
}
