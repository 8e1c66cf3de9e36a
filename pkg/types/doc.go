/*
Package types defines the shared data model for Veridex.

It covers three groups of types:

  - Issuer configuration: IssuerInstance and ListConfig, including geometry
    validation (block count and size limits, multiple-of-8 list sizes).
  - Allocator state documents: the contents of list management, block
    assignment and index assignment documents, versioned against each other
    through slSequence.
  - Wire types: Credential and the StatusEntry tagged union, whose JSON
    shapes are fixed per status list type and must be preserved byte-for-byte
    on the wire. Unknown JSON properties survive a round trip through the
    Extra maps; the variant set itself is closed.
*/
package types
