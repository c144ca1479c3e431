/*
Package linop provides matrix-free linear operators over structured arrays.

An Operator maps an array shaped batch+domain to one shaped batch+range
without ever forming an explicit matrix. Leaf operators implement physical
measurement processes (Fourier sampling, nonuniform Fourier sampling,
coil-sensitivity modulation, diagonal weighting, finite differences); they
compose into larger models with Compose and Gram.

To apply a 2D undersampled Fourier operator and its adjoint:

	mask, _ := linop.NewBoolArray(elems, linop.Shape{128, 128})
	op, _ := linop.NewFourier(linop.Shape{128, 128}, 2, mask, linop.NormOrtho)
	y, _ := op.Transform(x, false)
	z, _ := op.Transform(y, true)

Operators are immutable after construction. Constructors validate shapes
eagerly and return an error; Transform fails if the trailing dimensions of
its argument do not match the expected shape.
*/
package linop
