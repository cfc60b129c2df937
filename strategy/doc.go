// Package strategy provides the built-in topic selection strategies of a
// multi-topic reader.
//
// A reader over several topics asks its strategy which topic to read next:
//
//   - Priority: the topic with the earliest next message (types.PolicyDefault)
//   - Sequence: strict round robin after the topic served last (types.PolicySequence)
//
// # Strategy Selection Guide
//
// Priority:
//   - Use when downstream processing wants messages of all topics in
//     global timestamp order
//   - Peeks every topic before each read
//   - A topic that may still hold an earlier message delays the others until
//     its broker answers or the read times out
//
// Sequence:
//   - Use when every topic must get an equal share of reads
//   - No peeking; the selected topic is read with the remaining timeout
//
// Both strategies skip topics past their timestamp limit and finished topics.
// Custom strategies can be implemented by satisfying the types.ReadStrategy
// interface.
package strategy
