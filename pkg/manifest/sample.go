package manifest

// SampleYAML is the workspace written by `crateplan init`.
const SampleYAML = `# crateplan workspace description.
members:
  - name: app
    version: 0.1.0
    dependencies:
      - name: core-utils
        path: ../core-utils
      - name: log
        version: ^0.4
      - name: pretty-assertions
        version: ^1.4
        kind: dev
    targets:
      - kind: lib
      - kind: bin
        name: app

  - name: core-utils
    version: 0.1.0
    features:
      default: [std]
      std: []

registry:
  - name: log
    version: 0.4.21
  - name: log
    version: 0.4.20
  - name: pretty-assertions
    version: 1.4.0
`
