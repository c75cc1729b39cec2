package tensor

// Backend defines the operations a compute backend provides to the layers.
//
// Shape problems are programmer errors: implementations panic with a
// *ShapeError rather than returning an error.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// MatMul computes a @ b for 2D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor
	// MatMulTransB computes a @ bᵀ for 2D tensors: [M, K] @ [N, K]ᵀ -> [M, N].
	MatMulTransB(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Convolution and pooling over NCHW tensors.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor

	// ReLU computes max(0, x) element-wise.
	ReLU(x *RawTensor) *RawTensor

	// Backward kernels used by autodiff ops.
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int, kernelSize, stride int) *RawTensor
	ReLUBackward(input, grad *RawTensor) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
