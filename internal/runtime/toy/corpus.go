package toy

// builtinCorpus is used when no model path is given. Paragraphs are separate
// training documents.
const builtinCorpus = `Hello! I am a small language model running on your own machine.

I can keep a conversation going, but my vocabulary is tiny and my memory is short.

When the context window fills up, the oldest half of the conversation is forgotten.

Take a slow breath in, hold it for a moment, and let it out gently.

It is okay to feel tired. Rest is part of the work.

A café in the morning, a naïve question, a long walk by the river.

Thank you for talking with me. Is there anything else on your mind?

Let us think about this one step at a time.`
