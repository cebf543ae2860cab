// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"
)

// OptimizerWithGradients is an optimizer that can apply given gradients, like optimizers.Adam.
type OptimizerWithGradients interface {
	optimizers.Interface
	UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType)
}

// clipByGlobalNorm implements optimizers.Interface.
type clipByGlobalNorm struct {
	OptimizerWithGradients
	maxNorm float64
}

// ClipEpsilon is added to the global norm when computing the clipping factor.
const ClipEpsilon = 1e-6

// ClipByGlobalNorm wraps the optimizer so the gradients are scaled down whenever their global L2 norm
// (over all trainable variables) is larger than maxNorm: each gradient is multiplied by
// min(1, maxNorm/(norm+ClipEpsilon)).
//
// The optimizer must implement OptimizerWithGradients. If maxNorm is 0 the optimizer is returned unchanged.
func ClipByGlobalNorm(opt optimizers.Interface, maxNorm float64) (optimizers.Interface, error) {
	if maxNorm == 0 {
		return opt, nil
	}
	if maxNorm < 0 {
		return nil, errors.Errorf("ClipByGlobalNorm: maxNorm must be > 0, got %g", maxNorm)
	}
	withGrads, ok := opt.(OptimizerWithGradients)
	if !ok {
		return nil, errors.Errorf("ClipByGlobalNorm: optimizer %T doesn't support updates from given gradients", opt)
	}
	return &clipByGlobalNorm{OptimizerWithGradients: withGrads, maxNorm: maxNorm}, nil
}

// UpdateGraph implements optimizers.Interface.
func (c *clipByGlobalNorm) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	c.UpdateGraphWithGradients(ctx, ClipGradientsByGlobalNorm(grads, c.maxNorm), loss.DType())
}

// ClipGradientsByGlobalNorm scales all grads by min(1, maxNorm/(globalNorm+ClipEpsilon)), where globalNorm
// is the L2 norm of all the gradients concatenated.
func ClipGradientsByGlobalNorm(grads []*Node, maxNorm float64) []*Node {
	if len(grads) == 0 {
		return grads
	}
	norm := GlobalNorm(grads)
	scale := Min(
		ScalarOne(norm.Graph(), norm.DType()),
		Div(Scalar(norm.Graph(), norm.DType(), maxNorm), AddScalar(norm, ClipEpsilon)))
	clipped := make([]*Node, len(grads))
	for ii, grad := range grads {
		clipped[ii] = Mul(grad, ConvertDType(scale, grad.DType()))
	}
	return clipped
}

// GlobalNorm returns the L2 norm of all the given nodes concatenated. nodes must not be empty.
func GlobalNorm(nodes []*Node) *Node {
	if len(nodes) == 0 {
		Panicf("GlobalNorm requires at least one node")
	}
	var sumSquares *Node
	for _, node := range nodes {
		s := ReduceAllSum(Square(node))
		if sumSquares == nil {
			sumSquares = s
		} else {
			sumSquares = Add(sumSquares, s)
		}
	}
	return Sqrt(sumSquares)
}
