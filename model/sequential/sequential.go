package sequential

import (
	"log"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sw965/filtergan"
	"github.com/sw965/filtergan/mathx"
	"github.com/sw965/filtergan/model/layer"
	"github.com/sw965/filtergan/optimizer"
	"github.com/sw965/omw/parallel"
	"github.com/sw965/omw/slicesx"
	"gonum.org/v1/gonum/blas/blas32"
)

// Model is a stack of layers. Parameters[i] belongs to Forwards[i]; layers
// without weights hold an empty Parameter.
type Model struct {
	Parameters  layer.Parameters
	Forwards    layer.Forwards
	Loss        layer.PredictLoss
	InputShape  layer.Shape
	OutputShape layer.Shape
}

func New(in layer.Shape) Model {
	return Model{
		InputShape:  in,
		OutputShape: in,
	}
}

func (m *Model) append(param layer.Parameter, forward layer.Forward, out layer.Shape) {
	m.Parameters = append(m.Parameters, param)
	m.Forwards = append(m.Forwards, forward)
	m.OutputShape = out
}

// AppendConv2D adds a stride-1, same-padded convolution with the given
// number of filters.
func (m *Model) AppendConv2D(filters, filterRows, filterCols int, rng *rand.Rand) {
	in := m.OutputShape
	param := layer.NewConv2DParameter(filters, in.Channels, filterRows, filterCols, rng)
	out := layer.Shape{Channels: filters, Rows: in.Rows, Cols: in.Cols}
	m.append(param, layer.NewConv2DForward(in, filterRows, filterCols), out)
}

func (m *Model) AppendDense(n int, rng *rand.Rand) {
	param := layer.NewAffineParameter(m.OutputShape.N(), n, rng)
	m.append(param, layer.AffineForward, layer.NewFlatShape(n))
}

func (m *Model) AppendReLU() {
	m.append(layer.NewEmptyParameter(), layer.ReLUForward, m.OutputShape)
}

func (m *Model) AppendSigmoid() {
	m.append(layer.NewEmptyParameter(), layer.SigmoidForward, m.OutputShape)
}

func (m *Model) AppendFlatten() {
	n := m.OutputShape.N()
	m.append(layer.NewEmptyParameter(), layer.NewReshapeForward(n), layer.NewFlatShape(n))
}

func (m *Model) AppendReshape(shape layer.Shape) error {
	n := m.OutputShape.N()
	if shape.N() != n {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "cannot reshape %v into %v", m.OutputShape, shape)
	}
	m.append(layer.NewEmptyParameter(), layer.NewReshapeForward(n), shape)
	return nil
}

// Clone shares the layer closures but not the parameters. Closures look
// parameters up through the Parameter pointer passed at call time, so the
// clone trains independently.
func (m Model) Clone() Model {
	m.Parameters = m.Parameters.Clone()
	return m
}

func (m *Model) Predict(x blas32.Vector) (blas32.Vector, error) {
	y, _, err := m.Forwards.Propagate(x, m.Parameters)
	return y, err
}

// BackPropagate returns the loss for (x, t), the gradient with respect to x,
// and the parameter gradients.
func (m *Model) BackPropagate(x, t blas32.Vector) (float32, blas32.Vector, layer.GradBuffers, error) {
	y, backwards, err := m.Forwards.Propagate(x, m.Parameters)
	if err != nil {
		return 0.0, blas32.Vector{}, nil, err
	}
	loss, err := m.Loss.Func(y, t)
	if err != nil {
		return 0.0, blas32.Vector{}, nil, err
	}
	firstChain, err := m.Loss.Derivative(y, t)
	if err != nil {
		return 0.0, blas32.Vector{}, nil, err
	}
	dx, grads, err := backwards.Propagate(firstChain)
	return loss, dx, grads, err
}

func workers(n, p int) int {
	if p < 1 {
		p = 1
	}
	if p > n {
		p = n
	}
	return p
}

func checkBatch(xs, ts []blas32.Vector) error {
	n := len(xs)
	if n == 0 {
		return errors.Errorf("empty batch")
	}
	if n != len(ts) {
		return errors.Wrapf(filtergan.ErrShapeMismatch, "%d inputs, %d targets", n, len(ts))
	}
	return nil
}

func divergence(loss float32) error {
	if !mathx.IsFinite(loss) {
		return errors.Wrapf(filtergan.ErrNumericalDivergence, "loss became %v", loss)
	}
	return nil
}

// ComputeGrad backpropagates every sample on up to p workers and returns the
// mean loss and mean gradients.
func (m *Model) ComputeGrad(xs, ts []blas32.Vector, p int) (float32, layer.GradBuffers, error) {
	if err := checkBatch(xs, ts); err != nil {
		return 0.0, nil, err
	}
	n := len(xs)
	p = workers(n, p)

	gradsByWorker := make([]layer.GradBuffers, p)
	lossByWorker := make([]float32, p)
	for i := range gradsByWorker {
		gradsByWorker[i] = m.Parameters.NewGradsZerosLike()
	}

	err := parallel.For(n, p, func(workerId, idx int) error {
		loss, _, grads, err := m.BackPropagate(xs[idx], ts[idx])
		if err != nil {
			return err
		}
		gradsByWorker[workerId].Axpy(1.0, grads)
		lossByWorker[workerId] += loss
		return nil
	})
	if err != nil {
		return 0.0, nil, err
	}

	total := gradsByWorker[0]
	sum := lossByWorker[0]
	for i := 1; i < p; i++ {
		total.Axpy(1.0, gradsByWorker[i])
		sum += lossByWorker[i]
	}
	total.Scal(1.0 / float32(n))
	mean := sum / float32(n)
	if err := divergence(mean); err != nil {
		return 0.0, nil, err
	}
	return mean, total, nil
}

func (m *Model) MeanLoss(xs, ts []blas32.Vector, p int) (float32, error) {
	if err := checkBatch(xs, ts); err != nil {
		return 0.0, err
	}
	n := len(xs)
	p = workers(n, p)
	lossByWorker := make([]float32, p)

	err := parallel.For(n, p, func(workerId, idx int) error {
		y, err := m.Predict(xs[idx])
		if err != nil {
			return err
		}
		loss, err := m.Loss.Func(y, ts[idx])
		if err != nil {
			return err
		}
		lossByWorker[workerId] += loss
		return nil
	})
	if err != nil {
		return 0.0, err
	}

	sum := float32(0.0)
	for _, l := range lossByWorker {
		sum += l
	}
	mean := sum / float32(n)
	return mean, divergence(mean)
}

// TrainOnBatch takes one optimizer step on the whole of (xs, ts) and returns
// the loss measured before the step.
func (m *Model) TrainOnBatch(xs, ts []blas32.Vector, opt optimizer.Optimizer, p int) (float32, error) {
	loss, grads, err := m.ComputeGrad(xs, ts, p)
	if err != nil {
		return 0.0, err
	}
	return loss, opt.Update(m.Parameters, grads)
}

type FitConfig struct {
	Epochs    int
	BatchSize int
	Parallel  int

	// Logger receives one line per epoch. Nil disables it.
	Logger *log.Logger `json:"-"`
	Name   string      `json:"-"`
}

type History struct {
	Losses []float32
}

func (h *History) Last() float32 {
	if len(h.Losses) == 0 {
		return 0.0
	}
	return h.Losses[len(h.Losses)-1]
}

// Fit runs c.Epochs passes over (xs, ts) in shuffled mini-batches of
// c.BatchSize. The final batch of an epoch may be smaller.
func (m *Model) Fit(xs, ts []blas32.Vector, c FitConfig, opt optimizer.Optimizer, rng *rand.Rand) (History, error) {
	if err := checkBatch(xs, ts); err != nil {
		return History{}, err
	}
	if c.Epochs <= 0 {
		return History{}, errors.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return History{}, errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}

	n := len(xs)
	history := History{Losses: make([]float32, 0, c.Epochs)}
	for epoch := 0; epoch < c.Epochs; epoch++ {
		perm := rng.Perm(n)
		sum := float32(0.0)
		for start := 0; start < n; start += c.BatchSize {
			idxs := perm[start:min(start+c.BatchSize, n)]
			miniXs, err := slicesx.ElementsByIndices(xs, idxs...)
			if err != nil {
				return history, err
			}
			miniTs, err := slicesx.ElementsByIndices(ts, idxs...)
			if err != nil {
				return history, err
			}

			loss, err := m.TrainOnBatch(miniXs, miniTs, opt, c.Parallel)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d", epoch+1)
			}
			sum += loss * float32(len(idxs))
		}
		loss := sum / float32(n)
		history.Losses = append(history.Losses, loss)
		if c.Logger != nil {
			c.Logger.Printf("%s epoch %d/%d loss %.6f", c.Name, epoch+1, c.Epochs, loss)
		}
	}
	return history, nil
}
