// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the keyward command line using Cobra. It loads the
// configuration, builds the core services and delegates every command to
// them. Command code stays thin: matching, transitions and persistence live
// in the internal packages.
package cli
