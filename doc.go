/*
Package filtergan compares the first-layer filters learned by an RGB
autoencoder with those learned by a single-channel autoencoder, trains a
discriminator on the two filter sets, and fine-tunes the RGB encoder against
it.

The subpackages carry a small float32 toolkit on top of gonum's blas32:

	blas32/...          tensors, im2col convolution helpers
	model/layer         parameters, forward/backward closures, losses
	model/sequential    layer stacks, parallel gradients, Fit
	model/autoencoder   the conv autoencoder
	model/discriminator the filter classifier
	dataset             CIFAR-10, image folder and synthetic inputs
	filterbank          filter files and the labeled filter dataset
	adversarial         the alternating fine-tuning loop
	pipeline            the three stages wired together
*/
package filtergan
