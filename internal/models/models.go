package models

import "github.com/23skdu/longbow-quiver/internal/losses"

func init() {
	Register(Descriptor{Kind: KindCTC, Name: "EncDecCTCModel"})
	Register(Descriptor{Kind: KindCTCBPE, Name: "EncDecCTCModelBPE"})
	Register(Descriptor{Kind: KindRNNT, Name: "EncDecRNNTModel"})
	Register(Descriptor{Kind: KindRNNTBPE, Name: "EncDecRNNTBPEModel"})
	Register(Descriptor{
		Kind: KindClassification,
		Name: "EncDecClassificationModel",
		NewLoss: func() (losses.Module, error) {
			return losses.NewCrossEntropy()
		},
	})
	Register(Descriptor{
		Kind: KindSpeakerLabel,
		Name: "EncDecSpeakerLabelModel",
		NewLoss: func() (losses.Module, error) {
			return losses.NewCrossEntropy()
		},
	})
	Register(Descriptor{Kind: KindSpeakerEmbedding, Name: "ExtractSpeakerEmbeddingsModel"})
	Register(Descriptor{
		Kind: KindSpeechRegression,
		Name: "EncDecSpeechRegressionModel",
		NewLoss: func() (losses.Module, error) {
			return losses.NewWERRegression()
		},
	})
	Register(Descriptor{Kind: KindClusteringDiarizer, Name: "ClusteringDiarizer"})
}
