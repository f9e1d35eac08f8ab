package services

import "context"

// Name identifies a node service.
type Name string

// Service is a background component attached to an execution node.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ready(ctx context.Context) error
	OnReady(ctx context.Context, cb func(context.Context) error)
	Name() Name
}
