// Package gadget holds the fixed catalog of JOP gadgets the kernel-call
// subsystem depends on, and the linear scanner that locates them in a
// loaded kernel image (spec §4.E). Catalog entries are ported verbatim from
// original_source/src/libmemctl/aarch64/kernel_call_aarch64.c's gadgets[]
// table; the word sequences are load-bearing and must not be "improved".
package gadget

// ID names one catalog entry. Values mirror the original C enum's order so
// DESIGN.md and the upstream source stay easy to cross-reference.
type ID int

const (
	LdpX2X1X1BrX2 ID = iota
	MovX12X2BrX3
	MovX2X30BrX12
	MovX8X4BrX5
	MovX21X2BrX8
	MovX20X0BlrX8
	MovX10X4BrX8
	MovX9X10BrX8
	MovX11X9BrX8
	LdpX3X4X20_20LdpX5X6X20_30BlrX8
	AddX20X20_34BrX8
	MovX22X6BlrX8
	MovX24X4BrX8
	MovX0X3BlrX8
	MovX28X0BlrX8
	MovX12X3BrX8
	MovX0X5BlrX8
	MovX9X0BrX11
	MovX7X9BlrX11
	MovX11X24BrX8
	MovX1X9MovX2X10BlrX11
	MovX30X28BrX12
	LdpX8X1X20_10BlrX8
	StrX0X20LdrX8X22LdrX8X8_28MovX0X22BlrX8
	MovX30X21BrX8
	Ret
	MovX28X2BlrX8
	MovX21X5BlrX8
	MovX15X5BrX11
	MovX17X15BrX8
	MovX30X22BrX17
	StrX0X20LdrX8X21LdrX8X8_28MovX0X21BlrX8
	MovX30X28BrX8

	count
)

// Gadget is one catalog entry: its identity, the exact instruction words it
// must match, and (once found) its runtime address.
type Gadget struct {
	ID     ID
	Desc   string
	Words  []uint32
	Addr   uint64
	Found  bool
}

// Catalog is the fixed, statically declared gadget table (spec §4.E): about
// thirty short instruction sequences, each ending in an indirect branch.
// Scan populates Addr/Found on a copy of this slice — Catalog itself is
// never mutated.
var Catalog = []Gadget{
	{ID: LdpX2X1X1BrX2, Desc: "ldp x2, x1, [x1] ; br x2", Words: []uint32{0xa9400422, 0xd61f0040}},
	{ID: MovX12X2BrX3, Desc: "mov x12, x2 ; br x3", Words: []uint32{0xaa0203ec, 0xd61f0060}},
	{ID: MovX2X30BrX12, Desc: "mov x2, x30 ; br x12", Words: []uint32{0xaa1e03e2, 0xd61f0180}},
	{ID: MovX8X4BrX5, Desc: "mov x8, x4 ; br x5", Words: []uint32{0xaa0403e8, 0xd61f00a0}},
	{ID: MovX21X2BrX8, Desc: "mov x21, x2 ; br x8", Words: []uint32{0xaa0203f5, 0xd61f0100}},
	{ID: MovX20X0BlrX8, Desc: "mov x20, x0 ; blr x8", Words: []uint32{0xaa0003f4, 0xd63f0100}},
	{ID: MovX10X4BrX8, Desc: "mov x10, x4 ; br x8", Words: []uint32{0xaa0403ea, 0xd61f0100}},
	{ID: MovX9X10BrX8, Desc: "mov x9, x10 ; br x8", Words: []uint32{0xaa0a03e9, 0xd61f0100}},
	{ID: MovX11X9BrX8, Desc: "mov x11, x9 ; br x8", Words: []uint32{0xaa0903eb, 0xd61f0100}},
	{ID: LdpX3X4X20_20LdpX5X6X20_30BlrX8, Desc: "ldp x3, x4, [x20, #0x20] ; ldp x5, x6, [x20, #0x30] ; blr x8",
		Words: []uint32{0xa9421283, 0xa9431a85, 0xd63f0100}},
	{ID: AddX20X20_34BrX8, Desc: "add x20, x20, #0x34 ; br x8", Words: []uint32{0x9100d294, 0xd61f0100}},
	{ID: MovX22X6BlrX8, Desc: "mov x22, x6 ; blr x8", Words: []uint32{0xaa0603f6, 0xd63f0100}},
	{ID: MovX24X4BrX8, Desc: "mov x24, x4 ; br x8", Words: []uint32{0xaa0403f8, 0xd61f0100}},
	{ID: MovX0X3BlrX8, Desc: "mov x0, x3 ; blr x8", Words: []uint32{0xaa0303e0, 0xd63f0100}},
	{ID: MovX28X0BlrX8, Desc: "mov x28, x0 ; blr x8", Words: []uint32{0xaa0003fc, 0xd63f0100}},
	{ID: MovX12X3BrX8, Desc: "mov x12, x3 ; br x8", Words: []uint32{0xaa0303ec, 0xd61f0100}},
	{ID: MovX0X5BlrX8, Desc: "mov x0, x5 ; blr x8", Words: []uint32{0xaa0503e0, 0xd63f0100}},
	{ID: MovX9X0BrX11, Desc: "mov x9, x0 ; br x11", Words: []uint32{0xaa0003e9, 0xd61f0160}},
	{ID: MovX7X9BlrX11, Desc: "mov x7, x9 ; blr x11", Words: []uint32{0xaa0903e7, 0xd63f0160}},
	{ID: MovX11X24BrX8, Desc: "mov x11, x24 ; br x8", Words: []uint32{0xaa1803eb, 0xd61f0100}},
	{ID: MovX1X9MovX2X10BlrX11, Desc: "mov x1, x9 ; mov x2, x10 ; blr x11",
		Words: []uint32{0xaa0903e1, 0xaa0a03e2, 0xd63f0160}},
	{ID: MovX30X28BrX12, Desc: "mov x30, x28 ; br x12", Words: []uint32{0xaa1c03fe, 0xd61f0180}},
	{ID: LdpX8X1X20_10BlrX8, Desc: "ldp x8, x1, [x20, #0x10] ; blr x8", Words: []uint32{0xa9410688, 0xd63f0100}},
	{ID: StrX0X20LdrX8X22LdrX8X8_28MovX0X22BlrX8,
		Desc:  "str x0, [x20] ; ldr x8, [x22] ; ldr x8, [x8, #0x28] ; mov x0, x22 ; blr x8",
		Words: []uint32{0xf9000280, 0xf94002c8, 0xf9401508, 0xaa1603e0, 0xd63f0100}},
	{ID: MovX30X21BrX8, Desc: "mov x30, x21 ; br x8", Words: []uint32{0xaa1503fe, 0xd61f0100}},
	{ID: Ret, Desc: "ret", Words: []uint32{0xd65f03c0}},
	{ID: MovX28X2BlrX8, Desc: "mov x28, x2 ; blr x8", Words: []uint32{0xaa0203fc, 0xd63f0100}},
	{ID: MovX21X5BlrX8, Desc: "mov x21, x5 ; blr x8", Words: []uint32{0xaa0503f5, 0xd63f0100}},
	{ID: MovX15X5BrX11, Desc: "mov x15, x5 ; br x11", Words: []uint32{0xaa0503ef, 0xd61f0160}},
	{ID: MovX17X15BrX8, Desc: "mov x17, x15 ; br x8", Words: []uint32{0xaa0f03f1, 0xd61f0100}},
	{ID: MovX30X22BrX17, Desc: "mov x30, x22 ; br x17", Words: []uint32{0xaa1603fe, 0xd61f0220}},
	{ID: StrX0X20LdrX8X21LdrX8X8_28MovX0X21BlrX8,
		Desc:  "str x0, [x20] ; ldr x8, [x21] ; ldr x8, [x8, #0x28] ; mov x0, x21 ; blr x8",
		Words: []uint32{0xf9000280, 0xf94002a8, 0xf9401508, 0xaa1503e0, 0xd63f0100}},
	{ID: MovX30X28BrX8, Desc: "mov x30, x28 ; br x8", Words: []uint32{0xaa1c03fe, 0xd61f0100}},
}

func init() {
	if len(Catalog) != int(count) {
		panic("gadget: Catalog entries do not match the ID enum")
	}
}
