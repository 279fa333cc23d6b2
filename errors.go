package filtergan

import (
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch reports tensors whose shapes cannot be combined, most
	// notably filter sets that do not flatten to a common length.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrMissingArtifact reports that a stage needs a file an earlier stage
	// did not write.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrNumericalDivergence reports a loss that became NaN or infinite.
	ErrNumericalDivergence = errors.New("numerical divergence")
)
