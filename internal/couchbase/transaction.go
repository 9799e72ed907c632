package couchbase

import (
	"github.com/couchbase/gocb/v2"
)

// TransactionRunner performs document operations inside the session's transaction.
type TransactionRunner interface {
	Get(collection *gocb.Collection, key string) (*gocb.TransactionGetResult, error)
	Insert(collection *gocb.Collection, key string, value any) (*gocb.TransactionGetResult, error)
	Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error)
	Remove(doc *gocb.TransactionGetResult) error
}

// transactionRunner wraps the Couchbase transaction context to provide a simpler interface.
type transactionRunner struct {
	ctx *gocb.TransactionAttemptContext
}

func newTransactionRunner(ctx *gocb.TransactionAttemptContext) *transactionRunner {
	return &transactionRunner{ctx: ctx}
}

func (t *transactionRunner) Get(collection *gocb.Collection, key string) (*gocb.TransactionGetResult, error) {
	return t.ctx.Get(collection, key)
}

func (t *transactionRunner) Insert(collection *gocb.Collection, key string, value any) (*gocb.TransactionGetResult, error) {
	return t.ctx.Insert(collection, key, value)
}

func (t *transactionRunner) Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error) {
	return t.ctx.Replace(doc, value)
}

func (t *transactionRunner) Remove(doc *gocb.TransactionGetResult) error {
	return t.ctx.Remove(doc)
}
