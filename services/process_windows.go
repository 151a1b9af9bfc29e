//go:build windows

package services

import (
	"context"
	"errors"
	"log/slog"
)

var errUnsupported = errors.New("supervisor process control is not supported on windows")

func WritePIDFile(path string) error { return errUnsupported }

func RemovePIDFile(path string) {}

type PIDFileControl struct {
	PIDFile string
	Bin     string
	LogFile string
	Logger  *slog.Logger
}

func (p PIDFileControl) Running() (bool, error) { return false, errUnsupported }

func (p PIDFileControl) Restart(ctx context.Context) error { return errUnsupported }
