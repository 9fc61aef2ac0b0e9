package dto

// LockBatchRequest places or releases an administrative hold on a batch.
type LockBatchRequest struct {
	Locked bool   `json:"locked"`
	Reason string `json:"reason"`
}
