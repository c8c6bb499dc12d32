package llm

// Token is an opaque vocabulary id. Only equality and piece lookup are meaningful.
type Token int32

// NullToken marks an absent special token (e.g. a model without BOS).
const NullToken Token = -1

// Vocab is the tokenizer side of a model runtime.
type Vocab interface {
	// Tokenize converts text to tokens. addSpecial prepends BOS (when the
	// model uses one); parseSpecial recognizes special-token text.
	Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error)
	// TokenToPiece renders a single token. Special tokens render as text
	// only when special is true.
	TokenToPiece(tok Token, special bool) string
	// IsEOG reports whether tok ends generation (EOS, EOT, ...).
	IsEOG(tok Token) bool
	BOS() Token
	EOS() Token
	EOT() Token
	// AddBOS reports whether the model expects a leading BOS token.
	AddBOS() bool
}

// KVCache exposes the positional operations on the model's attention cache.
// Ranges are half-open [p0, p1); p0 < 0 means 0 and p1 < 0 means infinity.
// seq < 0 addresses every sequence.
type KVCache interface {
	SeqRemove(seq, p0, p1 int) bool
	SeqAdd(seq, p0, p1, delta int)
	SeqDiv(seq, p0, p1, d int)
}

// Context is a live model context: fixed capacity, blocking decode, and a
// serializable state.
type Context interface {
	KVCache

	// NCtx is the context capacity fixed at creation.
	NCtx() int
	// NCtxTrain is the context length the model was trained with.
	NCtxTrain() int

	// Decode feeds batch at consecutive positions starting at pos. It blocks
	// until the forward pass is complete; logits of the last token are then
	// available to the sampler.
	Decode(batch []Token, pos int) error

	// HasEncoder reports an encoder-decoder model.
	HasEncoder() bool
	// Encode runs the encoder over the whole input.
	Encode(batch []Token) error
	// DecoderStart is the first decoder token, or NullToken when unset.
	DecoderStart() Token

	// StateBytes serializes the model state (KV cache included).
	StateBytes() ([]byte, error)
	// SetStateBytes restores a state produced by StateBytes. It must reject
	// a blob that does not fit this context.
	SetStateBytes(state []byte) error
}

// Runtime bundles the vocabulary and the context of one loaded model.
type Runtime interface {
	Vocab
	Context
}

// Sampler picks the next token from the logits of the last decode.
type Sampler interface {
	Sample() Token
	// Accept records tok in the sampler history. applyGrammar is false for
	// prompt and user tokens.
	Accept(tok Token, applyGrammar bool)
	Reset()
}
