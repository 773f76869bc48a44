package coverage

import "github.com/dmawi/gridci/pkg/protocol"

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

type ActionFactory struct{}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "coverage-upload"
}
