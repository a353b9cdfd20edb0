package parser

import (
	"time"

	"github.com/rickgao/kis-stream/internal/model"
)

type fill = model.PersonalFill

// fillLayout is the decrypted H0STCNI0/H0STCNI9 record.
var fillLayout = newLayout("", finishFill, []field[fill]{
	text("CUST_ID", func(f *fill) *string { return &f.CustomerID }),
	text("ACNT_NO", func(f *fill) *string { return &f.AccountNo }),
	integer("ODER_NO", func(f *fill) *int64 { return &f.OrderNo }),
	lenientInt("OODER_NO", func(f *fill) *int64 { return &f.OriginOrderNo }),
	code("SELN_BYOV_CLS", model.ParseDirection, func(f *fill) *model.Direction { return &f.Direction }),
	code("RCTF_CLS", model.ParseCorrectionClass, func(f *fill) *model.CorrectionClass { return &f.Correction }),
	code("ODER_KIND", model.ParseOrderKind, func(f *fill) *model.OrderKind { return &f.OrderKind }),
	text("ODER_COND", func(f *fill) *string { return &f.OrderCondition }),
	text("STCK_SHRN_ISCD", func(f *fill) *string { return &f.Code }),
	integer("CNTG_QTY", func(f *fill) *int64 { return &f.ExecQty }),
	integer("CNTG_UNPR", func(f *fill) *int64 { return &f.ExecPrice }),
	clock("STCK_CNTG_HOUR", func(f *fill) *time.Time { return &f.ExecTime }),
	flag("RFUS_YN", func(f *fill) *bool { return &f.Refused }),
	flag("CNTG_YN", func(f *fill) *bool { return &f.Executed }),
	flag("ACPT_YN", func(f *fill) *bool { return &f.Accepted }),
	text("BRNC_NO", func(f *fill) *string { return &f.BranchNo }),
	integer("ODER_QTY", func(f *fill) *int64 { return &f.OrderQty }),
	text("ACNT_NAME", func(f *fill) *string { return &f.AccountName }),
	text("CNTG_ISNM", func(f *fill) *string { return &f.StockName }),
	text("CRDT_CLS", func(f *fill) *string { return &f.CreditClass }),
	optionalDate("CRDT_LOAN_DATE", func(f *fill) **time.Time { return &f.CreditLoanDate }),
	text("CNTG_ISNM40", func(f *fill) *string { return &f.StockNameLong }),
})

func finishFill(f *fill, trID model.TrID) model.Message {
	f.Hdr = model.Header{TrID: trID, Time: f.ExecTime}
	return f
}
