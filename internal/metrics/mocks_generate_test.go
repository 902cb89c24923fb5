// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package metrics

//go:generate mockgen -destination=runner_mock_test.go -package $GOPACKAGE . Runner
