package dataset

var EnsureFile = ensureFile
