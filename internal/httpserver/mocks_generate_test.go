// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package httpserver

//go:generate mockgen -destination=logger_mock_test.go -package $GOPACKAGE . Logger
