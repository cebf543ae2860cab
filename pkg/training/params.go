// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"bufio"
	"encoding/gob"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamsMap returns the values of the model variables (those under ModelScope, trainable or not) keyed by
// their parameter name (see context.Variable.ParameterName).
//
// The tensors are the variables' own values: don't finalize them.
func ParamsMap(ctx *context.Context) map[string]*tensors.Tensor {
	params := make(map[string]*tensors.Tensor)
	for v := range ctx.InAbsPath(context.RootScope + ModelScope).IterVariablesInScope() {
		params[v.ParameterName()] = v.MustValue()
	}
	return params
}

// SaveParams writes the model variables (see ParamsMap) to path, as a flat mapping of parameter names to tensors.
func SaveParams(ctx *context.Context, path string) (err error) {
	params := ParamsMap(ctx)
	names := slices.Sorted(maps.Keys(params))

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create params file %q", path)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close params file %q", path)
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err = enc.Encode(len(names)); err != nil {
		return errors.Wrapf(err, "failed to write params to %q", path)
	}
	for _, name := range names {
		if err = enc.Encode(name); err != nil {
			return errors.Wrapf(err, "failed to write param %q to %q", name, path)
		}
		if err = params[name].GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "failed to write param %q to %q", name, path)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write params to %q", path)
	}
	klog.V(1).Infof("Saved %d params to %q", len(names), path)
	return nil
}

// LoadParams reads the mapping written by SaveParams into the context: existing variables must have
// the same shape, missing ones are created.
//
// The whole file is read and checked before any variable is changed: on error the context is left untouched.
func LoadParams(ctx *context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open params file %q", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	var count int
	if err = dec.Decode(&count); err != nil {
		return errors.Wrapf(err, "failed to read params from %q", path)
	}
	type stagedParam struct {
		name, scope, varName string
		value                *tensors.Tensor
		variable             *context.Variable
	}
	staged := make([]stagedParam, 0, count)
	for range count {
		var p stagedParam
		if err = dec.Decode(&p.name); err != nil {
			return errors.Wrapf(err, "failed to read params from %q", path)
		}
		p.value, err = tensors.GobDeserialize(dec)
		if err != nil {
			return errors.WithMessagef(err, "failed to read param %q from %q", p.name, path)
		}
		p.scope, p.varName = context.VariableScopeAndNameFromParameterName(p.name)
		if p.varName == "" || !inModelScope(p.scope) {
			return errors.Errorf("invalid param name %q in %q", p.name, path)
		}
		p.variable = ctx.GetVariableByScopeAndName(p.scope, p.varName)
		if p.variable != nil && !p.variable.Shape().Equal(p.value.Shape()) {
			return errors.Errorf("param %q in %q has shape %s, but the variable is shaped %s",
				p.name, path, p.value.Shape(), p.variable.Shape())
		}
		staged = append(staged, p)
	}

	for _, p := range staged {
		if p.variable == nil {
			ctx.InAbsPath(p.scope).Checked(false).VariableWithValue(p.varName, p.value)
			continue
		}
		if err = p.variable.SetValue(p.value); err != nil {
			return errors.WithMessagef(err, "failed to set param %q", p.name)
		}
	}
	klog.V(1).Infof("Loaded %d params from %q", count, path)
	return nil
}

func inModelScope(scope string) bool {
	modelScope := context.RootScope + ModelScope
	return scope == modelScope || strings.HasPrefix(scope, modelScope+context.ScopeSeparator)
}
