//go:build cuda

// Package native holds the minimal cgo surface over the CUDA runtime,
// cuBLAS and cuSOLVER needed by the double-precision tile kernels. Forward
// declarations avoid requiring vendor headers at compile time; the linker
// still needs libcudart, libcublas and libcusolver when building with the
// cuda tag.
package native

/*
#cgo LDFLAGS: -lcudart -lcublas -lcusolver

typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);

#define TRELLIS_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define TRELLIS_CUDA_MEMCPY_DEVICE_TO_HOST 2

typedef struct cublasContext* cublasHandle_t;
typedef int cublasStatus_t;

extern cublasStatus_t cublasCreate_v2(cublasHandle_t* handle);
extern cublasStatus_t cublasDestroy_v2(cublasHandle_t handle);
extern cublasStatus_t cublasSetStream_v2(cublasHandle_t handle, cudaStream_t stream);
extern cublasStatus_t cublasDtrsm_v2(
	cublasHandle_t handle,
	int side,
	int uplo,
	int trans,
	int diag,
	int m,
	int n,
	const double* alpha,
	const double* A,
	int lda,
	double* B,
	int ldb);
extern cublasStatus_t cublasDsyrk_v2(
	cublasHandle_t handle,
	int uplo,
	int trans,
	int n,
	int k,
	const double* alpha,
	const double* A,
	int lda,
	const double* beta,
	double* C,
	int ldc);
extern cublasStatus_t cublasDgemm_v2(
	cublasHandle_t handle,
	int transa,
	int transb,
	int m,
	int n,
	int k,
	const double* alpha,
	const double* A,
	int lda,
	const double* B,
	int ldb,
	const double* beta,
	double* C,
	int ldc);

typedef struct cusolverDnContext* cusolverDnHandle_t;
typedef int cusolverStatus_t;

extern cusolverStatus_t cusolverDnCreate(cusolverDnHandle_t* handle);
extern cusolverStatus_t cusolverDnDestroy(cusolverDnHandle_t handle);
extern cusolverStatus_t cusolverDnSetStream(cusolverDnHandle_t handle, cudaStream_t stream);
extern cusolverStatus_t cusolverDnDpotrf_bufferSize(
	cusolverDnHandle_t handle,
	int uplo,
	int n,
	double* A,
	int lda,
	int* lwork);
extern cusolverStatus_t cusolverDnDpotrf(
	cusolverDnHandle_t handle,
	int uplo,
	int n,
	double* A,
	int lda,
	double* work,
	int lwork,
	int* devInfo);

static int trellisCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int trellisCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int trellisCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int trellisCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int trellisCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int trellisCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int trellisCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int trellisCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, src, size, kind, stream);
}

static const char* trellisCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int trellisCublasCreate(cublasHandle_t* out) {
	return (int)cublasCreate_v2(out);
}

static int trellisCublasDestroy(cublasHandle_t handle) {
	return (int)cublasDestroy_v2(handle);
}

static int trellisCublasSetStream(cublasHandle_t handle, cudaStream_t stream) {
	return (int)cublasSetStream_v2(handle, stream);
}

static int trellisCublasDtrsm(cublasHandle_t handle, int side, int uplo, int trans, int diag, int m, int n, const double* alpha, const double* A, int lda, double* B, int ldb) {
	return (int)cublasDtrsm_v2(handle, side, uplo, trans, diag, m, n, alpha, A, lda, B, ldb);
}

static int trellisCublasDsyrk(cublasHandle_t handle, int uplo, int trans, int n, int k, const double* alpha, const double* A, int lda, const double* beta, double* C, int ldc) {
	return (int)cublasDsyrk_v2(handle, uplo, trans, n, k, alpha, A, lda, beta, C, ldc);
}

static int trellisCublasDgemm(cublasHandle_t handle, int transa, int transb, int m, int n, int k, const double* alpha, const double* A, int lda, const double* B, int ldb, const double* beta, double* C, int ldc) {
	return (int)cublasDgemm_v2(handle, transa, transb, m, n, k, alpha, A, lda, B, ldb, beta, C, ldc);
}

static int trellisCusolverCreate(cusolverDnHandle_t* out) {
	return (int)cusolverDnCreate(out);
}

static int trellisCusolverDestroy(cusolverDnHandle_t handle) {
	return (int)cusolverDnDestroy(handle);
}

static int trellisCusolverSetStream(cusolverDnHandle_t handle, cudaStream_t stream) {
	return (int)cusolverDnSetStream(handle, stream);
}

static int trellisCusolverDpotrfBufferSize(cusolverDnHandle_t handle, int uplo, int n, double* A, int lda, int* lwork) {
	return (int)cusolverDnDpotrf_bufferSize(handle, uplo, n, A, lda, lwork);
}

static int trellisCusolverDpotrf(cusolverDnHandle_t handle, int uplo, int n, double* A, int lda, double* work, int lwork, int* devInfo) {
	return (int)cusolverDnDpotrf(handle, uplo, n, A, lda, work, lwork, devInfo);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// cuBLAS enum values, stable across toolkit versions.
const (
	OpN = 0 // CUBLAS_OP_N
	OpT = 1 // CUBLAS_OP_T

	FillLower = 1 // CUBLAS_FILL_MODE_LOWER
	FillUpper = 0 // CUBLAS_FILL_MODE_UPPER

	SideLeft  = 0 // CUBLAS_SIDE_LEFT
	SideRight = 1 // CUBLAS_SIDE_RIGHT

	DiagNonUnit = 0 // CUBLAS_DIAG_NON_UNIT
)

type Stream struct {
	ptr C.cudaStream_t
}

type BlasHandle struct {
	ptr C.cublasHandle_t
}

type SolverHandle struct {
	ptr C.cusolverDnHandle_t
}

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr("cudaGetDeviceCount", C.trellisCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(device int) error {
	return cudaErr("cudaSetDevice", C.trellisCudaSetDevice(C.int(device)))
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr("cudaStreamCreate", C.trellisCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr("cudaStreamDestroy", C.trellisCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr("cudaStreamSynchronize", C.trellisCudaStreamSynchronize(s.ptr))
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr("cudaMalloc", C.trellisCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr("cudaFree", C.trellisCudaFree(b.ptr))
}

func (b DeviceBuffer) Valid() bool {
	return b.ptr != nil
}

func MemcpyH2DAsync(dst DeviceBuffer, src unsafe.Pointer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync h2d", C.trellisCudaMemcpyAsync(dst.ptr, src, C.ulonglong(bytes), C.TRELLIS_CUDA_MEMCPY_HOST_TO_DEVICE, stream.ptr))
}

func MemcpyD2HAsync(dst unsafe.Pointer, src DeviceBuffer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync d2h", C.trellisCudaMemcpyAsync(dst, src.ptr, C.ulonglong(bytes), C.TRELLIS_CUDA_MEMCPY_DEVICE_TO_HOST, stream.ptr))
}

func NewBlasHandle(stream Stream) (BlasHandle, error) {
	var handle C.cublasHandle_t
	if err := blasErr("cublasCreate", C.trellisCublasCreate(&handle)); err != nil {
		return BlasHandle{}, err
	}
	if err := blasErr("cublasSetStream", C.trellisCublasSetStream(handle, stream.ptr)); err != nil {
		_ = blasErr("cublasDestroy", C.trellisCublasDestroy(handle))
		return BlasHandle{}, err
	}
	return BlasHandle{ptr: handle}, nil
}

func (h BlasHandle) Destroy() error {
	if h.ptr == nil {
		return nil
	}
	return blasErr("cublasDestroy", C.trellisCublasDestroy(h.ptr))
}

func NewSolverHandle(stream Stream) (SolverHandle, error) {
	var handle C.cusolverDnHandle_t
	if err := solverErr("cusolverDnCreate", C.trellisCusolverCreate(&handle)); err != nil {
		return SolverHandle{}, err
	}
	if err := solverErr("cusolverDnSetStream", C.trellisCusolverSetStream(handle, stream.ptr)); err != nil {
		_ = solverErr("cusolverDnDestroy", C.trellisCusolverDestroy(handle))
		return SolverHandle{}, err
	}
	return SolverHandle{ptr: handle}, nil
}

func (h SolverHandle) Destroy() error {
	if h.ptr == nil {
		return nil
	}
	return solverErr("cusolverDnDestroy", C.trellisCusolverDestroy(h.ptr))
}

func Dtrsm(h BlasHandle, side, uplo, trans, diag, m, n int, alpha float64, a DeviceBuffer, lda int, b DeviceBuffer, ldb int) error {
	return blasErr("cublasDtrsm", C.trellisCublasDtrsm(h.ptr, C.int(side), C.int(uplo), C.int(trans), C.int(diag), C.int(m), C.int(n), (*C.double)(unsafe.Pointer(&alpha)), (*C.double)(a.ptr), C.int(lda), (*C.double)(b.ptr), C.int(ldb)))
}

func Dsyrk(h BlasHandle, uplo, trans, n, k int, alpha float64, a DeviceBuffer, lda int, beta float64, c DeviceBuffer, ldc int) error {
	return blasErr("cublasDsyrk", C.trellisCublasDsyrk(h.ptr, C.int(uplo), C.int(trans), C.int(n), C.int(k), (*C.double)(unsafe.Pointer(&alpha)), (*C.double)(a.ptr), C.int(lda), (*C.double)(unsafe.Pointer(&beta)), (*C.double)(c.ptr), C.int(ldc)))
}

func Dgemm(h BlasHandle, transa, transb, m, n, k int, alpha float64, a DeviceBuffer, lda int, b DeviceBuffer, ldb int, beta float64, c DeviceBuffer, ldc int) error {
	return blasErr("cublasDgemm", C.trellisCublasDgemm(h.ptr, C.int(transa), C.int(transb), C.int(m), C.int(n), C.int(k), (*C.double)(unsafe.Pointer(&alpha)), (*C.double)(a.ptr), C.int(lda), (*C.double)(b.ptr), C.int(ldb), (*C.double)(unsafe.Pointer(&beta)), (*C.double)(c.ptr), C.int(ldc)))
}

// DpotrfWorkspaceSize queries the device workspace size in elements.
func DpotrfWorkspaceSize(h SolverHandle, uplo, n int, a DeviceBuffer, lda int) (int, error) {
	var lwork C.int
	if err := solverErr("cusolverDnDpotrf_bufferSize", C.trellisCusolverDpotrfBufferSize(h.ptr, C.int(uplo), C.int(n), (*C.double)(a.ptr), C.int(lda), &lwork)); err != nil {
		return 0, err
	}
	return int(lwork), nil
}

func Dpotrf(h SolverHandle, uplo, n int, a DeviceBuffer, lda int, work DeviceBuffer, lwork int, devInfo DeviceBuffer) error {
	return solverErr("cusolverDnDpotrf", C.trellisCusolverDpotrf(h.ptr, C.int(uplo), C.int(n), (*C.double)(a.ptr), C.int(lda), (*C.double)(work.ptr), C.int(lwork), (*C.int)(devInfo.ptr)))
}

func cudaErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.trellisCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("%s: cuda error %d: %s", op, int(code), msg)
}

func blasErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%s: cublas status %d", op, int(code))
}

func solverErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%s: cusolver status %d", op, int(code))
}
