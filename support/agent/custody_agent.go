package agent

import (
	"github.com/filecoin-project/go-address"
	"github.com/pkg/errors"

	"github.com/filecoin-project/custody-actors/actors/builtin"
	"github.com/filecoin-project/custody-actors/actors/builtin/custody"
	init_ "github.com/filecoin-project/custody-actors/actors/builtin/init"
	"github.com/filecoin-project/custody-actors/actors/serde"
	vm "github.com/filecoin-project/custody-actors/support/vm"
)

// CustodianAgent owns a master and its slave. It creates them on its first tick, then
// periodically redirects whatever the master holds.
type CustodianAgent struct {
	Admin  address.Address
	Master address.Address
	Slave  address.Address

	Redirects int

	creating  bool
	redirects *RateIterator
}

func NewCustodianAgent(admin address.Address, redirectRate float64, seed int64) *CustodianAgent {
	return &CustodianAgent{
		Admin:     admin,
		redirects: NewRateIterator(redirectRate, seed),
	}
}

func (ca *CustodianAgent) Tick(v VMState) ([]Message, error) {
	if ca.Master == address.Undef {
		if ca.creating {
			return nil, errors.Errorf("master creation by %v did not complete", ca.Admin)
		}
		msg, err := ca.createMaster()
		if err != nil {
			return nil, err
		}
		ca.creating = true
		return []Message{msg}, nil
	}

	var msgs []Message
	err := ca.redirects.Tick(func() error {
		msgs = append(msgs, Message{
			From:   ca.Admin,
			To:     ca.Master,
			Method: builtin.MethodsCustody.RedirectFunds,
			ReturnHandler: func(v VMState, _ Message, _ []byte) error {
				ca.Redirects++
				if !v.GetBalance(ca.Master).IsZero() {
					return errors.Errorf("master %v kept funds after redirect", ca.Master)
				}
				return nil
			},
		})
		return nil
	})
	return msgs, err
}

func (ca *CustodianAgent) createMaster() (Message, error) {
	ctorParams, err := serde.Serialize(&custody.ConstructorParams{
		Admin:           ca.Admin.String(),
		CreateSlave:     true,
		SlaveTemplateID: vm.CustodyTemplateID,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:   ca.Admin,
		To:     builtin.InitActorAddr,
		Method: builtin.MethodsInit.Exec,
		Params: &init_.ExecParams{
			TemplateID:        vm.CustodyTemplateID,
			Label:             "custody-master",
			ConstructorParams: ctorParams,
		},
		ReturnHandler: func(v VMState, _ Message, ret []byte) error {
			var execRet init_.ExecReturn
			if err := serde.Deserialize(ret, &execRet); err != nil {
				return errors.Wrap(err, "create master return")
			}
			var st custody.State
			if err := v.GetState(execRet.IDAddress, &st); err != nil {
				return err
			}
			if !st.HasChild() {
				return errors.Errorf("master %v has no slave", execRet.IDAddress)
			}
			ca.Master = execRet.IDAddress
			ca.Slave = *st.Child
			return nil
		},
	}, nil
}
