package gpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/yuv_to_rgb_video.wgsl
var shaderVideoRange string

//go:embed shaders/yuv_to_rgb_full.wgsl
var shaderFullRange string

// ErrSoftwareProgram is returned when a GPU dispatch is requested from a
// program that fell back to software conversion.
var ErrSoftwareProgram = errors.New("gpu: conversion program is running in software")

// ColorMatrix is a 3x3 YCbCr to RGB conversion matrix in column-major
// order: columns multiply luma, Cb and Cr respectively.
type ColorMatrix [9]float32

// MatrixVideoRange is the BT.601 matrix for video-range samples
// (16-235 luma, 16-240 chroma).
var MatrixVideoRange = ColorMatrix{
	1.164, 1.164, 1.164,
	0.0, -0.392, 2.017,
	1.596, -0.813, 0.0,
}

// MatrixFullRange is the BT.601 matrix for full-range samples (0-255 on
// both planes).
var MatrixFullRange = ColorMatrix{
	1.0, 1.0, 1.0,
	0.0, -0.343, 1.765,
	1.4, -0.711, 0.0,
}

// Convert applies the matrix to one sample triple. y is the
// range-normalized luma in [0,1]; cb and cr are centered on zero. The
// result is unclamped.
func (m ColorMatrix) Convert(y, cb, cr float32) (r, g, b float32) {
	r = m[0]*y + m[3]*cb + m[6]*cr
	g = m[1]*y + m[4]*cb + m[7]*cr
	b = m[2]*y + m[5]*cb + m[8]*cr
	return r, g, b
}

// ConversionProgram pairs a conversion matrix with the shader variant
// compiled for the same pixel range. The pair is built as one value and
// never mixed: a full-range matrix always runs with the full-range shader
// and vice versa.
//
// When shader compilation or pipeline creation fails the program falls
// back to software conversion via ConvertPlanes; Software reports which
// mode is active.
type ConversionProgram struct {
	fullRange bool
	matrix    ColorMatrix
	software  bool

	ctx        *Context
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	uniform    hal.Buffer
}

const conversionUniformSize = 64

// NewConversionProgram compiles the shader variant and conversion matrix
// for the given pixel range and builds the compute pipeline around them.
// Must be called from the context run loop. A failed pipeline build
// degrades to software conversion instead of failing construction.
func NewConversionProgram(ctx *Context, fullRange bool) (*ConversionProgram, error) {
	p := &ConversionProgram{
		fullRange: fullRange,
		ctx:       ctx,
	}
	src := shaderVideoRange
	p.matrix = MatrixVideoRange
	if fullRange {
		src = shaderFullRange
		p.matrix = MatrixFullRange
	}

	if err := p.initPipeline(src); err != nil {
		log.Printf("gpu: conversion pipeline unavailable, using software path: %v", err)
		p.releaseGPU()
		p.software = true
	}
	return p, nil
}

func (p *ConversionProgram) initPipeline(src string) error {
	spirv, err := compileWGSL(src)
	if err != nil {
		return fmt.Errorf("compile conversion shader: %w", err)
	}

	device := p.ctx.device

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "yuv_to_rgb",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	p.module = module

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "yuv_to_rgb_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageCompute,
				StorageTexture: &gputypes.StorageTextureBindingLayout{
					Access:        gputypes.StorageTextureAccessWriteOnly,
					Format:        gputypes.TextureFormatRGBA8Unorm,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "yuv_to_rgb_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "yuv_to_rgb_pipeline",
		Layout: pipeLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	p.pipeline = pipeline

	uniform, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "yuv_to_rgb_params",
		Size:  conversionUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create uniform buffer: %w", err)
	}
	p.uniform = uniform

	return nil
}

// FullRange reports which pixel-range classification the program was built
// for. The matrix and shader variant always share it.
func (p *ConversionProgram) FullRange() bool { return p.fullRange }

// Matrix returns the conversion matrix the program was built with.
func (p *ConversionProgram) Matrix() ColorMatrix { return p.matrix }

// Software reports whether the program degraded to CPU conversion.
func (p *ConversionProgram) Software() bool { return p.software }

// Convert enqueues the conversion pass reading luma and chroma and writing
// RGB into out. orient is the physical orientation carried by the input
// planes; the output is always portrait. Must be called from the context
// run loop. The enqueue returning does not mean the GPU has finished
// reading the inputs; the serialized run loop orders any later writes to
// them after this pass.
func (p *ConversionProgram) Convert(luma, chroma TexturePlane, out *Framebuffer, orient Orientation) error {
	if p.software {
		return ErrSoftwareProgram
	}

	device := p.ctx.device
	queue := p.ctx.queue

	if err := queue.WriteBuffer(p.uniform, 0, encodeConversionParams(p.matrix, orient)); err != nil {
		return fmt.Errorf("gpu: write conversion params: %w", err)
	}

	bindGroup, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "yuv_to_rgb_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{
				TextureView: luma.View().NativeHandle(),
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{
				TextureView: chroma.View().NativeHandle(),
			}},
			{Binding: 2, Resource: gputypes.BufferBinding{
				Buffer: p.uniform.NativeHandle(),
				Offset: 0,
				Size:   conversionUniformSize,
			}},
			{Binding: 3, Resource: gputypes.TextureViewBinding{
				TextureView: out.View().NativeHandle(),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create conversion bind group: %w", err)
	}
	defer device.DestroyBindGroup(bindGroup)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "yuv_to_rgb_encoder",
	})
	if err != nil {
		return fmt.Errorf("gpu: create conversion encoder: %w", err)
	}
	if err := encoder.BeginEncoding("yuv_to_rgb"); err != nil {
		return fmt.Errorf("gpu: begin conversion encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "yuv_to_rgb"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	w := uint32(out.Size().Width)
	h := uint32(out.Size().Height)
	pass.Dispatch((w+7)/8, (h+7)/8, 1)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end conversion encoding: %w", err)
	}
	defer cmdBuf.Destroy()

	if _, err := queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("gpu: submit conversion pass: %w", err)
	}
	return nil
}

// ConvertPlanes is the software path: it applies the same range
// normalization, matrix and orientation remap as the shader on the CPU and
// uploads the result into out. size is the source plane extent; cbcr is
// the interleaved half-resolution chroma plane. Must be called from the
// context run loop.
func (p *ConversionProgram) ConvertPlanes(y []byte, yStride int, cbcr []byte, cbcrStride int, size Size, out *Framebuffer, orient Orientation) {
	outW := out.Size().Width
	outH := out.Size().Height
	rgba := p.convertPlanesRGBA(y, yStride, cbcr, cbcrStride, size, outW, outH, orient)
	out.Upload(p.ctx.queue, rgba, outW*4)
}

// convertPlanesRGBA computes the packed RGBA pixels for ConvertPlanes.
func (p *ConversionProgram) convertPlanesRGBA(y []byte, yStride int, cbcr []byte, cbcrStride int, size Size, outW, outH int, orient Orientation) []byte {
	rgba := make([]byte, outW*outH*4)

	half := size.Half()
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			px := (float32(ox) + 0.5) / float32(outW)
			py := (float32(oy) + 0.5) / float32(outH)
			sx, sy := sourceCoord(px, py, orient)

			lx := clampInt(int(sx*float32(size.Width)), 0, size.Width-1)
			ly := clampInt(int(sy*float32(size.Height)), 0, size.Height-1)
			cx := clampInt(int(sx*float32(half.Width)), 0, half.Width-1)
			cy := clampInt(int(sy*float32(half.Height)), 0, half.Height-1)

			lum := float32(y[ly*yStride+lx]) / 255.0
			if !p.fullRange {
				lum -= 16.0 / 255.0
			}
			cb := float32(cbcr[cy*cbcrStride+cx*2])/255.0 - 0.5
			cr := float32(cbcr[cy*cbcrStride+cx*2+1])/255.0 - 0.5

			r, g, b := p.matrix.Convert(lum, cb, cr)
			i := (oy*outW + ox) * 4
			rgba[i] = clampByte(r)
			rgba[i+1] = clampByte(g)
			rgba[i+2] = clampByte(b)
			rgba[i+3] = 0xff
		}
	}
	return rgba
}

// Destroy releases the program's GPU resources. Must be called from the
// run loop, or after it has stopped.
func (p *ConversionProgram) Destroy() {
	p.releaseGPU()
}

func (p *ConversionProgram) releaseGPU() {
	device := p.ctx.device
	if p.uniform != nil {
		device.DestroyBuffer(p.uniform)
		p.uniform = nil
	}
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.module != nil {
		device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// PortraitTarget returns the extent of the portrait conversion target for
// a source of the given extent and physical orientation: landscape
// sources transpose.
func PortraitTarget(s Size, orient Orientation) Size {
	if orient == OrientationLandscapeLeft || orient == OrientationLandscapeRight {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// sourceCoord mirrors source_coord in the shaders.
func sourceCoord(px, py float32, orient Orientation) (float32, float32) {
	switch orient {
	case OrientationPortraitUpsideDown:
		return 1 - px, 1 - py
	case OrientationLandscapeLeft:
		return 1 - py, px
	case OrientationLandscapeRight:
		return py, 1 - px
	default:
		return px, py
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return byte(v*255 + 0.5)
}

// encodeConversionParams lays out the uniform block: three vec3 columns at
// 16-byte alignment, the orientation code, then padding to 64 bytes.
func encodeConversionParams(m ColorMatrix, orient Orientation) []byte {
	buf := make([]byte, conversionUniformSize)
	for col := 0; col < 3; col++ {
		base := col * 16
		for row := 0; row < 3; row++ {
			bits := math.Float32bits(m[col*3+row])
			binary.LittleEndian.PutUint32(buf[base+row*4:], bits)
		}
	}
	binary.LittleEndian.PutUint32(buf[48:], uint32(orient))
	return buf
}

// compileWGSL compiles WGSL source to the little-endian 32-bit SPIR-V
// words the shader module descriptor expects.
func compileWGSL(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
