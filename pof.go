package extend

import (
	"github.com/pior/extend/messaging"
	"github.com/pior/extend/partition"
	"github.com/pior/extend/pof"
)

// NewPOFContext returns a POF context with the types every Extend peer
// exchanges registered: remote errors and partition sets. Register
// application types on it before passing it in messaging.Config.
func NewPOFContext(opts ...pof.Option) (*pof.Context, error) {
	ctx := pof.NewContext(opts...)
	if err := messaging.RegisterTypes(ctx); err != nil {
		return nil, err
	}
	if err := partition.Register(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
