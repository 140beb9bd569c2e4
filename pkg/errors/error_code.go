// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package errors

import "net/http"

const (
	RequestParameterInvalid int = 4001
	BadFrameList            int = 4002
	FrameOutOfRange         int = 4003
	NotFound                int = 4004
	TenantNotFound          int = 4005
	Conflict                int = 4009

	InternalError      int = 5000
	InvalidDicom       int = 5001
	CodeDatabaseError  int = 5002
	NoWriteVolume      int = 5003
	StorageUnavailable int = 5004
	DiskLow            int = 5005
	UnknownVolume      int = 5006

	CodeInitializeError = 7001
	CodeLackOfConfig    = 7002
)

// HTTPStatus maps a domain error code to the HTTP status rendered by the
// error middleware.
func HTTPStatus(code int) int {
	switch code {
	case RequestParameterInvalid, BadFrameList, FrameOutOfRange, InvalidDicom:
		return http.StatusBadRequest
	case NotFound, TenantNotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case NoWriteVolume:
		return http.StatusServiceUnavailable
	case DiskLow:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
