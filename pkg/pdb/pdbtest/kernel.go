package pdbtest

import (
	"github.com/jtang613/pdbreader/pkg/pdb/codeview"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// Addresses of the symbols in Kernel.
const (
	RVAPspInsertProcess       = 0x1000
	RVAKeBugCheckEx           = 0x2000
	RVANtCreateFile           = 0x3000
	RVAKiSystemStartup        = 0x4000
	RVAPsInitialSystemProcess = 0x5020
	RVAPspCidTable            = 0x5040
)

// Layout of _EPROCESS in Kernel.
const (
	SizeEPROCESS             = 0xa40
	OffsetUniqueProcessID    = 0x440
	OffsetActiveProcessLinks = 0x448
	OffsetImageFileName      = 0x5a8
	OffsetProtection         = 0x87a
	OffsetFlags              = 0x87c
	LengthImageFileName      = 15
	SizeLISTENTRY            = 16
)

// Kernel returns a builder populated with a trimmed kernel image: a few
// procedures, globals, publics, a typedef, and _EPROCESS with its dependencies.
// _LIST_ENTRY is referenced through a forward declaration and _EPROCESS
// spreads its members over two chained field lists.
func Kernel() *Builder {
	b := New()

	listFwd := b.ForwardStruct("_LIST_ENTRY")
	listPtr := b.Pointer(listFwd)
	listFields := b.FieldList(
		Member("Flink", listPtr, 0),
		Member("Blink", listPtr, 8),
	)
	list := b.Struct("_LIST_ENTRY", SizeLISTENTRY, listFields)

	poolFields := b.FieldList(
		Enumerate("NonPagedPool", 0),
		Enumerate("PagedPool", 1),
	)
	b.Enum("_POOL_TYPE", streams.T_INT4, poolFields)

	kprocFields := b.FieldList(Member("DirectoryTableBase", streams.T_UQUAD, 0x28))
	kproc := b.Struct("_KPROCESS", 0x438, kprocFields)

	name := b.Array(streams.T_UCHAR, LengthImageFileName)
	protection := b.Modifier(streams.T_UCHAR, codeview.ModVolatile)
	flag := b.Bitfield(streams.T_ULONG, 1, 0)
	nested := b.ForwardStruct("_EPROCESS::_NESTED")

	tail := b.FieldList(
		Member("ImageFileName", name, OffsetImageFileName),
		Member("Protection", protection, OffsetProtection),
		Member("Flags", flag, OffsetFlags),
		StaticMember("ProcessCount", streams.T_ULONG),
		Nested("_NESTED", nested),
	)
	head := b.FieldList(
		BaseClass(kproc, 0),
		Member("UniqueProcessId", streams.T_64PVOID, OffsetUniqueProcessID),
		Member("ActiveProcessLinks", list, OffsetActiveProcessLinks),
		Continue(tail),
	)
	process := b.Struct("_EPROCESS", SizeEPROCESS, head)
	processPtr := b.Pointer(process)

	fn := b.Procedure(streams.T_VOID)
	nt := b.Module("ntoskrnl.obj")
	nt.Proc("PspInsertProcess", fn, 1, RVAPspInsertProcess-0x1000, 0x200)
	nt.Proc("KeBugCheckEx", fn, 1, RVAKeBugCheckEx-0x1000, 0x80)
	io := b.Module("io.obj")
	io.Proc("NtCreateFile", fn, 1, RVANtCreateFile-0x1000, 0x100)
	// Duplicate contributions are folded.
	io.Proc("KeBugCheckEx", fn, 1, RVAKeBugCheckEx-0x1000, 0x80)

	b.GlobalData("PsInitialSystemProcess", processPtr, 2, RVAPsInitialSystemProcess-0x5000)
	b.GlobalData("PspCidTable", streams.T_64PVOID, 2, RVAPspCidTable-0x5000)
	b.ThreadData("KiTlsSlot", streams.T_ULONG, 0x10)
	b.Public("KeBugCheckEx", 1, RVAKeBugCheckEx-0x1000)
	b.Public("KiSystemStartup", 1, RVAKiSystemStartup-0x1000)
	b.Typedef("PLIST_ENTRY", b.Pointer(list))
	return b
}
