package mocks

//go:generate mockery --name Repository --srcpkg github.com/aevon-lab/insight/internal/core/sources --output ./sources --outpkg sourcesmocks --with-expecter
