package flat

import (
	"math"

	"github.com/goki/mat32"
	"github.com/pkg/errors"
)

// ActivationKind identifies one of the fixed set of activation functions a layer can use.
type ActivationKind int

const (
	KindLinear ActivationKind = iota
	KindSigmoid
	KindSteepenedSigmoid
	KindTanH
	KindElliott
	KindElliottSymmetric
	KindReLU
	KindSin
	KindLog
)

// steepness of the steepened sigmoid (Elman/Jordan style networks)
const steepenedSlope = 4.9

var kindNames = map[ActivationKind]string{
	KindLinear:           "linear",
	KindSigmoid:          "sigmoid",
	KindSteepenedSigmoid: "steepened_sigmoid",
	KindTanH:             "tanh",
	KindElliott:          "elliott",
	KindElliottSymmetric: "elliott_symmetric",
	KindReLU:             "relu",
	KindSin:              "sin",
	KindLog:              "log",
}

// String returns the stable name used for persistence
func (k ActivationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseActivationKind returns the kind with the given persisted name
func ParseActivationKind(s string) (ActivationKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown activation function %q", s)
}

// Activation is an activation function applied to every feed neuron of a layer.
// Slope only matters for the Elliott functions, where zero means 1.
type Activation struct {
	Kind  ActivationKind
	Slope float64
}

// Linear returns its input unchanged
var Linear = Activation{Kind: KindLinear}

// Sigmoid is the standard logistic function (1 / (1 + e^-x))
var Sigmoid = Activation{Kind: KindSigmoid}

// SteepenedSigmoid is the logistic function with a slope of 4.9
var SteepenedSigmoid = Activation{Kind: KindSteepenedSigmoid}

// TanH is the hyperbolic tangent
var TanH = Activation{Kind: KindTanH}

// Elliott is a cheap sigmoid approximation with range (0, 1)
var Elliott = Activation{Kind: KindElliott, Slope: 1}

// ElliottSymmetric is a cheap tanh approximation with range (-1, 1)
var ElliottSymmetric = Activation{Kind: KindElliottSymmetric, Slope: 1}

// ReLU is the rectifier (x if x > 0 and 0 otherwise)
var ReLU = Activation{Kind: KindReLU}

// Sin is the sine function
var Sin = Activation{Kind: KindSin}

// Log is the signed logarithm (log(1+x) for x >= 0, -log(1-x) otherwise)
var Log = Activation{Kind: KindLog}

func (a Activation) slope() float64 {
	if a.Slope == 0 {
		return 1
	}
	return a.Slope
}

// Valid reports whether the activation names a known kind
func (a Activation) Valid() bool {
	_, ok := kindNames[a.Kind]
	return ok
}

// String returns the kind name
func (a Activation) String() string {
	return a.Kind.String()
}

// Activate returns the value of the activation function at x
func (a Activation) Activate(x float64) float64 {
	switch a.Kind {
	case KindSigmoid:
		return 1 / (1 + math.Exp(-x))
	case KindSteepenedSigmoid:
		return 1 / (1 + math.Exp(-steepenedSlope*x))
	case KindTanH:
		return math.Tanh(x)
	case KindElliott:
		s := a.slope()
		return (x*s)/2/(1+math.Abs(x*s)) + 0.5
	case KindElliottSymmetric:
		s := a.slope()
		return (x * s) / (1 + math.Abs(x*s))
	case KindReLU:
		if x > 0 {
			return x
		}
		return 0
	case KindSin:
		return math.Sin(x)
	case KindLog:
		if x >= 0 {
			return math.Log(1 + x)
		}
		return -math.Log(1 - x)
	}
	return x
}

// Derivative returns the derivative of the activation function, given both the
// net input (sum) and the already activated value (act)
func (a Activation) Derivative(sum, act float64) float64 {
	switch a.Kind {
	case KindSigmoid:
		return act * (1 - act)
	case KindSteepenedSigmoid:
		return steepenedSlope * act * (1 - act)
	case KindTanH:
		return 1 - act*act
	case KindElliott:
		s := a.slope()
		d := 1 + math.Abs(sum*s)
		return s / (2 * d * d)
	case KindElliottSymmetric:
		s := a.slope()
		d := 1 + math.Abs(sum*s)
		return s / (d * d)
	case KindReLU:
		if sum > 0 {
			return 1
		}
		return 0
	case KindSin:
		return math.Cos(sum)
	case KindLog:
		if sum >= 0 {
			return 1 / (1 + sum)
		}
		return 1 / (1 - sum)
	}
	return 1
}

// Activate32 is the single precision version of Activate
func (a Activation) Activate32(x float32) float32 {
	switch a.Kind {
	case KindSigmoid:
		return 1 / (1 + mat32.FastExp(-x))
	case KindSteepenedSigmoid:
		return 1 / (1 + mat32.FastExp(-steepenedSlope*x))
	case KindTanH:
		return 2/(1+mat32.FastExp(-2*x)) - 1
	case KindElliott:
		s := float32(a.slope())
		return (x*s)/2/(1+mat32.Abs(x*s)) + 0.5
	case KindElliottSymmetric:
		s := float32(a.slope())
		return (x * s) / (1 + mat32.Abs(x*s))
	case KindReLU:
		if x > 0 {
			return x
		}
		return 0
	case KindSin:
		return mat32.Sin(x)
	case KindLog:
		if x >= 0 {
			return mat32.Log(1 + x)
		}
		return -mat32.Log(1 - x)
	}
	return x
}

// Derivative32 is the single precision version of Derivative
func (a Activation) Derivative32(sum, act float32) float32 {
	switch a.Kind {
	case KindSigmoid:
		return act * (1 - act)
	case KindSteepenedSigmoid:
		return steepenedSlope * act * (1 - act)
	case KindTanH:
		return 1 - act*act
	case KindElliott:
		s := float32(a.slope())
		d := 1 + mat32.Abs(sum*s)
		return s / (2 * d * d)
	case KindElliottSymmetric:
		s := float32(a.slope())
		d := 1 + mat32.Abs(sum*s)
		return s / (d * d)
	case KindReLU:
		if sum > 0 {
			return 1
		}
		return 0
	case KindSin:
		return mat32.Cos(sum)
	case KindLog:
		if sum >= 0 {
			return 1 / (1 + sum)
		}
		return 1 / (1 - sum)
	}
	return 1
}
