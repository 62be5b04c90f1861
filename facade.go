package broker

import (
	"fmt"

	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/query"
)

type CommandQueryService interface {
	command.MutatingService
	query.Reader
}

// Facade exposes the command and query handlers bound to one service.
type Facade struct {
	service  CommandQueryService
	commands command.Set
	queries  query.Set
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("broker: command/query service is required")
	}
	return &Facade{
		service:  service,
		commands: command.NewSet(service),
		queries:  query.NewSet(service),
	}, nil
}

func (f *Facade) Commands() command.Set {
	if f == nil {
		return command.Set{}
	}
	return f.commands
}

func (f *Facade) Queries() query.Set {
	if f == nil {
		return query.Set{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
