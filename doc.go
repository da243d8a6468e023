/*
Package jitlink links already-compiled object modules into the running
process at runtime.

A long-running host hands compiled relocatable objects to a [Layer]
under caller-chosen keys. Registration is cheap: the object is parsed
and its symbol names recorded, but no memory is allocated. The first
request for one of a module's symbols (or an explicit [Layer.Finalize])
places the module's sections in executable memory, resolves its
external symbols through the [Resolver] supplied at add time and
applies its relocations. Resolvers may call back into the layer, which
is how a web of modules depending on each other finalizes on demand
without any topological pre-ordering.

# Underwater

 1. Object modules are relocatable ELF files, produced by any compiler
    driven out of process ( see the addon package for the pipeline ).
 2. Section memory comes from an [Allocator]; the default maps
    executable pages the same way other JIT solutions work, the arena
    variant keeps plain heap memory for tests and for code that is
    relocated here but executed elsewhere via [Layer.MapSectionAddress].
 3. Host process exports come from the goloader symbol registry, see
    [HostResolver].

# Notes

 1. Removing a module frees its memory immediately and unconditionally.
    Addresses fetched earlier are not patched or invalidated; holding
    them across a remove is undefined behavior. Track dependencies a
    layer above, or enable debug mode to turn late use of a removed
    record into a panic.
 2. A module whose finalization failed stays registered but errors on
    every request; remove it and submit a corrected object.
 3. Must fetch and use one symbol as desired type inside one specific
    goroutine. Layer itself can be used safe between goroutines, but
    concurrent finalize and remove of the same module is the caller's
    discipline.

# Samples

See the tests and the jitctl command.
*/
package jitlink
