// Package dataplane is the kernel side of enforcement. It loads the BPF
// object, hands program and map handles to enforcement modules and
// implements the two surfaces:
//
//   - ProgramMonitor: LSM program on bprm_check_security consulting
//     FILES_BLOCKLIST (inode -> u8). Execution of a listed inode is denied.
//   - NetworkMonitor: XDP program consulting IPV4_BLOCKLIST (u32 address
//     in host byte order) and IPV6_BLOCKLIST (16 raw bytes). Packets from a
//     listed source are dropped.
//
// # Example Usage
//
//	if err := rlimit.RemoveMemlock(); err != nil {
//	    log.Fatal(err)
//	}
//
//	arena, err := dataplane.OpenArena("/usr/lib/execguard/execguard.bpf.o")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer arena.Close()
//
//	programs := enforcement.New[uint64](dataplane.NewProgramMonitor(arena), enforcement.Options{})
//	if err := programs.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Ownership
//
// The Arena is the only object shared between modules. Taking a program
// or map from it transfers exclusive ownership to the caller; detaching a
// surface hands the handles back so a later load finds them again, with
// the blocklist contents intact.
//
// # Requirements
//
//   - Linux kernel with BTF (/sys/kernel/btf/vmlinux)
//   - bpf in the active LSM list for ProgramMonitor
//   - CAP_BPF and CAP_NET_ADMIN (or root)
package dataplane
