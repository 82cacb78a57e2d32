// Package storage re-exports the record store port so adapters and
// callers share one import path.
package storage

import (
	"github.com/showpath/showgate/internal/core/ports"
)

type RecordStore = ports.RecordStore

const (
	PartitionConfirmed      = ports.PartitionConfirmed
	PartitionUnconfirmed    = ports.PartitionUnconfirmed
	PartitionPendingConfirm = ports.PartitionPendingConfirm
)
