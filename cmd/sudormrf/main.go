// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sudormrf trains and runs speech separation models.
//
// Usage:
//
//	sudormrf [flags] <command> [args]
//
// Commands:
//
//	train    - Train a model, resuming from the checkpoint if there is one
//	eval     - Report the SI-SDR improvement of a checkpoint on the evaluation splits
//	separate - Separate the sources of WAV files
//	params   - Print the hyperparameters and the model parameters
//
// Hyperparameters are set with --set="key1=value1;key2=value2", see "sudormrf params" for the full list.
// Dataset locations are read from --config (default ~/.sudormrf/datasets.yaml) or from the
// *_ROOT_PATH environment variables.
package main

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := Execute(); err != nil {
		klog.Errorf("%+v", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
