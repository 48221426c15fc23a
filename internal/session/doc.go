/*
Package session owns the per-process scratch directory tree under a shared
scratch root.

Each running process gets one session directory, created lazily, paired with
a lock file of the same base name:

	<root>/imageop-5f0c...      session directory
	<root>/imageop-5f0c....lck  lock file

The lock file is created before the directory and deleted before it, so a
directory without a lock file always belongs to a process that is gone. Every
new Store sweeps such directories on construction; directories whose lock
file exists are never touched.

Shutdown deletes the lock file and then the tree. When deletion fails, for
example because memory-mapped bitmaps still pin a file, the cache is asked to
drop its bitmaps, the garbage collector is run and deletion is retried with a
doubling delay. Giving up is logged and reported but is not fatal: the lock is
already gone, so the next process's sweep removes what is left.
*/
package session
