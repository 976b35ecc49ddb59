package eval

// prelude runs in every new namespace.  Its globals are non-enumerable
// so they never show up in test discovery.
const prelude = `(function (g) {
  function def(name, value) {
    Object.defineProperty(g, name, { value: value, writable: true, configurable: true, enumerable: false });
  }
  function errorClass(name) {
    var C = class extends Error {
      constructor(message) {
        super(message);
        this.name = name;
      }
    };
    Object.defineProperty(C, "name", { value: name });
    return C;
  }
  function show(v) {
    if (typeof v === "string") return JSON.stringify(v);
    if (v === undefined) return "undefined";
    if (typeof v === "function") return "[Function]";
    try {
      var s = JSON.stringify(v);
      return s === undefined ? String(v) : s;
    } catch (e) {
      return String(v);
    }
  }
  function same(a, b) {
    if (a === b) return true;
    if (typeof a === "number" && typeof b === "number" && a !== a && b !== b) return true;
    if (a === null || b === null || typeof a !== "object" || typeof b !== "object") return false;
    try {
      return JSON.stringify(a) === JSON.stringify(b);
    } catch (e) {
      return false;
    }
  }

  def("AssertionError", errorClass("AssertionError"));
  def("EOFError", errorClass("EOFError"));
  def("InputTimeout", errorClass("InputTimeout"));

  def("assert", function assert(cond, msg) {
    if (!cond) throw new g.AssertionError(msg || "assertion failed");
  });
  def("assertEqual", function assertEqual(actual, expected, msg) {
    if (!same(actual, expected)) {
      throw new g.AssertionError(msg || "expected " + show(expected) + ", got " + show(actual));
    }
  });
  def("assertNotEqual", function assertNotEqual(actual, unexpected, msg) {
    if (same(actual, unexpected)) {
      throw new g.AssertionError(msg || "expected a value other than " + show(unexpected));
    }
  });
  def("assertThrows", function assertThrows(fn, msg) {
    try {
      fn();
    } catch (e) {
      return e;
    }
    throw new g.AssertionError(msg || "expected function to throw");
  });
})(this);
`
