// Package enforcement manages the lifecycle of enforcement modules: one
// actor per monitored surface owning the kernel hook attachment and the
// blocklist table that hook consults.
//
// A module is either Unloaded or Loaded:
//
//	Unloaded --Load--> Loaded --Unload--> Unloaded
//
// Block and Allow only work while Loaded. Both are idempotent: blocking a
// key twice leaves one entry and allowing a key that was never blocked
// succeeds.
//
// The kernel side of a surface (which program, which maps, how it is
// attached) lives behind the Surface interface and is implemented by
// package dataplane. Tests substitute in-memory surfaces.
package enforcement
