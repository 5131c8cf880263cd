// Package tensor defines the batch containers exchanged between the data
// pipeline, the sequence model, the CTC routines and the driver.
//
// All dense data is stored in gonum matrices. A rank-3 tensor is
// represented as a slice of matrices along its leading axis:
//
//	Logits    (batch, time, classes)  -> Data[b] is time×classes
//	TimeMajor (time, batch, classes)  -> Steps[t] is batch×classes
//	Images    (batch, height, width)  -> Data[b] is height×width
//
// Ground-truth labels are ragged and stored as flat values plus offsets.
package tensor
